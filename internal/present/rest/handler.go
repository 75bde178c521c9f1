package rest

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/config"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/internal/present/rest/middleware"
	"github.com/cloudillo/federation/internal/present/rest/presenter"
	"github.com/cloudillo/federation/internal/service"
	"github.com/cloudillo/federation/internal/usecase"
)

const maxTokenBytes = 256 << 10

// AttachmentMetaReader serves stored variant metadata.
type AttachmentMetaReader interface {
	GetMeta(ctx context.Context, tenant, variantID string) (*federation.AttachmentMeta, error)
}

// ActionReader serves stored actions, their raw tokens and threads.
type ActionReader interface {
	Get(ctx context.Context, tenant, actionID string) (*federation.Action, error)
	GetToken(ctx context.Context, tenant, actionID string) (string, error)
	ListByRoot(ctx context.Context, tenant, rootID string) ([]federation.Action, error)
}

type Handler struct {
	node     config.Node
	inbound  *usecase.InboundPipeline
	outbound *usecase.OutboundPipeline
	auth     *service.AuthService
	tenants  usecase.TenantRepository
	actions  ActionReader
	blobs    usecase.BlobStore
	meta     AttachmentMetaReader
	signal   *service.SignalService
}

func NewHandler(
	node config.Node,
	inbound *usecase.InboundPipeline,
	outbound *usecase.OutboundPipeline,
	auth *service.AuthService,
	tenants usecase.TenantRepository,
	actions ActionReader,
	blobs usecase.BlobStore,
	meta AttachmentMetaReader,
	signal *service.SignalService,
) *Handler {
	return &Handler{
		node:     node,
		inbound:  inbound,
		outbound: outbound,
		auth:     auth,
		tenants:  tenants,
		actions:  actions,
		blobs:    blobs,
		meta:     meta,
		signal:   signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/me/keys", h.handleKeys)
	e.GET("/api/auth/access-token", h.handleAccessToken)
	e.POST("/api/inbox/:actionId", h.handleInbox)
	e.POST("/api/action", h.handleActionCreate)
	e.GET("/api/action/:actionId", h.handleActionGet)
	e.GET("/api/action/:actionId/token", h.handleActionToken)
	e.GET("/api/thread/:rootId", h.handleThread)
	e.POST("/api/action/:actionId/accept", h.handleActionAccept)
	e.POST("/api/action/:actionId/reject", h.handleActionReject)
	e.POST("/api/action/:actionId/dismiss", h.handleActionDismiss)
	e.GET("/api/store/:variantId", h.handleStoreGet)
	e.GET("/api/store/:variantId/meta", h.handleStoreMeta)
	e.GET("/ws/notify", h.handleNotify)
}

func (h *Handler) handleKeys(c echo.Context) error {
	ctx := c.Request().Context()

	keys, err := h.tenants.ListKeys(ctx, h.node.IDTag)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	list := federation.KeyList{Keys: []federation.KeyInfo{}}
	for _, key := range keys {
		list.Keys = append(list.Keys, federation.KeyInfo{
			KeyID:     key.KeyID,
			PublicKey: key.PublicKey,
			Expires:   key.ExpiresAt,
		})
	}
	return presenter.OK(c, list)
}

func (h *Handler) handleAccessToken(c echo.Context) error {
	ctx := c.Request().Context()

	proxyToken := c.QueryParam("token")
	if proxyToken == "" {
		return presenter.BadRequestMessage(c, "token parameter is required")
	}

	access, err := h.auth.Exchange(ctx, proxyToken)
	if err != nil {
		if errors.Is(err, federation.ErrInvalidToken) {
			return presenter.BadRequestMessage(c, "invalid token")
		}
		return presenter.Forbidden(c, "token rejected")
	}
	return presenter.OK(c, access)
}

func (h *Handler) handleInbox(c echo.Context) error {
	ctx := c.Request().Context()

	rawToken, err := io.ReadAll(io.LimitReader(c.Request().Body, maxTokenBytes))
	if err != nil {
		return presenter.BadRequest(c, err)
	}
	if len(rawToken) == 0 {
		return presenter.BadRequestMessage(c, "empty token")
	}

	tok := string(rawToken)

	// Only a caller authenticated as the tenant itself counts as a
	// trusted channel. Bearers from the open token exchange identify the
	// requester but establish no relationship, so they must not bypass
	// the authorization policy.
	trusted := middleware.RequesterTag(ctx) == h.node.IDTag

	err = h.inbound.Handle(ctx, usecase.InboundRequest{
		Tenant:   h.node.IDTag,
		ActionID: c.Param("actionId"),
		Token:    tok,
		Trusted:  trusted,
	})
	if err != nil {
		// Peers get the coarse reason only; detail stays in the trace.
		var perr federation.ProtocolError
		if errors.As(err, &perr) {
			switch {
			case errors.Is(err, federation.ErrInvalidToken),
				errors.Is(err, federation.ErrSchemaInvalid):
				return presenter.BadRequestMessage(c, perr.Reason)
			default:
				return presenter.Forbidden(c, perr.Reason)
			}
		}
		return presenter.InternalError(c, err)
	}
	return presenter.Accepted(c, echo.Map{"status": "ok"})
}

func (h *Handler) requireOwner(c echo.Context) bool {
	return middleware.RequesterTag(c.Request().Context()) == h.node.IDTag
}

func (h *Handler) handleActionCreate(c echo.Context) error {
	ctx := c.Request().Context()

	if !h.requireOwner(c) {
		return presenter.Forbidden(c, "owner token required")
	}

	var na federation.NewAction
	if err := c.Bind(&na); err != nil {
		return presenter.BadRequest(c, err)
	}

	actionID, err := h.outbound.Create(ctx, h.node.IDTag, na)
	if err != nil {
		var perr federation.ProtocolError
		if errors.As(err, &perr) {
			return presenter.BadRequestMessage(c, perr.Error())
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"actionId": actionID})
}

func (h *Handler) handleActionGet(c echo.Context) error {
	ctx := c.Request().Context()

	if !h.requireOwner(c) {
		return presenter.Forbidden(c, "owner token required")
	}

	action, err := h.actions.Get(ctx, h.node.IDTag, c.Param("actionId"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "action not found")
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, action)
}

// handleActionToken serves the raw signed token of a stored action, so a
// peer can re-verify or relay it.
func (h *Handler) handleActionToken(c echo.Context) error {
	ctx := c.Request().Context()

	if middleware.RequesterTag(ctx) == "" {
		return presenter.Unauthorized(c, "bearer token required")
	}

	tok, err := h.actions.GetToken(ctx, h.node.IDTag, c.Param("actionId"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "action not found")
		}
		return presenter.InternalError(c, err)
	}
	return c.Blob(http.StatusOK, "application/jwt", []byte(tok))
}

func (h *Handler) handleThread(c echo.Context) error {
	ctx := c.Request().Context()

	if !h.requireOwner(c) {
		return presenter.Forbidden(c, "owner token required")
	}

	actions, err := h.actions.ListByRoot(ctx, h.node.IDTag, c.Param("rootId"))
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"actions": actions})
}

func (h *Handler) handleActionAccept(c echo.Context) error {
	return h.handleTransition(c, h.inbound.Accept)
}

func (h *Handler) handleActionReject(c echo.Context) error {
	return h.handleTransition(c, h.inbound.Reject)
}

func (h *Handler) handleActionDismiss(c echo.Context) error {
	return h.handleTransition(c, h.inbound.Dismiss)
}

func (h *Handler) handleTransition(c echo.Context, fn func(ctx context.Context, tenant, actionID string) error) error {
	ctx := c.Request().Context()

	if !h.requireOwner(c) {
		return presenter.Forbidden(c, "owner token required")
	}

	err := fn(ctx, h.node.IDTag, c.Param("actionId"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "action not found")
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleStoreGet(c echo.Context) error {
	ctx := c.Request().Context()

	if middleware.RequesterTag(ctx) == "" {
		return presenter.Unauthorized(c, "bearer token required")
	}

	variantID := c.Param("variantId")
	blob, err := h.blobs.Open(ctx, variantID)
	if err != nil {
		return presenter.NotFound(c, "variant not found")
	}
	defer blob.Close()

	contentType := "application/octet-stream"
	if meta, err := h.meta.GetMeta(ctx, h.node.IDTag, variantID); err == nil && meta.ContentType != "" {
		contentType = meta.ContentType
	}
	return c.Stream(http.StatusOK, contentType, blob)
}

func (h *Handler) handleStoreMeta(c echo.Context) error {
	ctx := c.Request().Context()

	if middleware.RequesterTag(ctx) == "" {
		return presenter.Unauthorized(c, "bearer token required")
	}

	meta, err := h.meta.GetMeta(ctx, h.node.IDTag, c.Param("variantId"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, "variant not found")
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, meta)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) handleNotify(c echo.Context) error {
	if !h.requireOwner(c) {
		return presenter.Forbidden(c, "owner token required")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	events := h.signal.Subscribe(ctx, domain.NotifyChannel(h.node.IDTag))

	// Drain the read side for close frames and heartbeats.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.DebugContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := ws.WriteJSON(event); err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
