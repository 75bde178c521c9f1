package service

import (
	"github.com/cloudillo/federation/client"
	"github.com/cloudillo/federation/internal/config"
	"github.com/cloudillo/federation/internal/usecase"
	"github.com/cloudillo/federation/registry"
)

// Engine owns the process-wide federation state: the action type
// registry, the key and proxy-token caches, and the two pipelines.
// Constructed once at startup and passed by handle; nothing here is a
// package-level global.
type Engine struct {
	Registry    *registry.Registry
	Keys        *KeyResolver
	Proxy       *ProxyIssuer
	Auth        *AuthService
	Attachments *AttachmentSync
	Signal      *SignalService
	Inbound     *usecase.InboundPipeline
	Outbound    *usecase.OutboundPipeline
}

// EngineDeps are the storage and transport collaborators the engine
// builds on.
type EngineDeps struct {
	Node     config.Node
	Client   *client.Client
	Actions  usecase.ActionRepository
	Profiles usecase.ProfileRepository
	Tenants  usecase.TenantRepository
	Blobs    usecase.BlobStore
	Meta     AttachmentMetaStore
	Queue    usecase.DeliveryQueue
	Signal   *SignalService
}

// NewEngine wires the default registry, caches and pipelines. Call before
// serving traffic; the registry is immutable afterwards.
func NewEngine(deps EngineDeps) *Engine {
	reg := registry.NewDefault()
	keys := NewKeyResolver(deps.Client, deps.Profiles)
	proxy := NewProxyIssuer(deps.Client, deps.Tenants)
	attachments := NewAttachmentSync(deps.Client, deps.Blobs, deps.Meta, proxy)
	auth := NewAuthService(deps.Node, keys)

	return &Engine{
		Registry:    reg,
		Keys:        keys,
		Proxy:       proxy,
		Auth:        auth,
		Attachments: attachments,
		Signal:      deps.Signal,
		Inbound: usecase.NewInboundPipeline(
			reg, keys, deps.Actions, deps.Profiles, attachments, deps.Signal,
		),
		Outbound: usecase.NewOutboundPipeline(
			reg, deps.Tenants, deps.Actions, deps.Profiles, deps.Queue, deps.Signal,
		),
	}
}
