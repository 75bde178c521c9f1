package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/internal/domain"
	"github.com/cloudillo/federation/registry"
	"github.com/cloudillo/federation/token"
)

// --- mocks ---

type storedAction struct {
	action   federation.Action
	rawToken string
	dedupKey string
}

type mockActionRepo struct {
	stored map[string]*storedAction
}

func newMockActionRepo() *mockActionRepo {
	return &mockActionRepo{stored: map[string]*storedAction{}}
}

func (m *mockActionRepo) Create(ctx context.Context, tenant string, action federation.Action, rawToken, dedupKey string) (bool, error) {
	if _, ok := m.stored[action.ActionID]; ok {
		return false, nil
	}
	m.stored[action.ActionID] = &storedAction{action: action, rawToken: rawToken, dedupKey: dedupKey}
	m.healRoots(action)
	return true, nil
}

// healRoots mirrors the persistence contract: a freshly stored action
// pushes its root down to descendants that arrived before their
// ancestors.
func (m *mockActionRepo) healRoots(action federation.Action) {
	rootID := action.RootID
	if rootID == "" {
		rootID = action.ActionID
	}
	frontier := []string{action.ActionID}
	for len(frontier) > 0 {
		var next []string
		for id, s := range m.stored {
			for _, parentID := range frontier {
				if s.action.ParentID == parentID {
					s.action.RootID = rootID
					next = append(next, id)
				}
			}
		}
		frontier = next
	}
}

func (m *mockActionRepo) Get(ctx context.Context, tenant, actionID string) (*federation.Action, error) {
	s, ok := m.stored[actionID]
	if !ok {
		return nil, domain.NotFoundError{Resource: "action"}
	}
	a := s.action
	return &a, nil
}

func (m *mockActionRepo) SetStatus(ctx context.Context, tenant, actionID string, status *string) error {
	s, ok := m.stored[actionID]
	if !ok {
		return domain.NotFoundError{Resource: "action"}
	}
	s.action.Status = status
	return nil
}

type mockProfileRepo struct {
	profiles map[string]*domain.Profile
	ensured  []string
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{profiles: map[string]*domain.Profile{}}
}

func (m *mockProfileRepo) Get(ctx context.Context, tenant, idTag string) (*domain.Profile, error) {
	p, ok := m.profiles[idTag]
	if !ok {
		return nil, domain.NotFoundError{Resource: "profile"}
	}
	cp := *p
	return &cp, nil
}

func (m *mockProfileRepo) Ensure(ctx context.Context, tenant, idTag string) error {
	m.ensured = append(m.ensured, idTag)
	if _, ok := m.profiles[idTag]; !ok {
		m.profiles[idTag] = &domain.Profile{Tenant: tenant, IDTag: idTag}
	}
	return nil
}

func (m *mockProfileRepo) ListFollowers(ctx context.Context, tenant string) ([]string, error) {
	var followers []string
	for tag, p := range m.profiles {
		if p.Follower && p.Status != domain.ProfileStatusBlocked {
			followers = append(followers, tag)
		}
	}
	return followers, nil
}

func (m *mockProfileRepo) SetFollowing(ctx context.Context, tenant, idTag string, following bool) error {
	m.ensureLocal(tenant, idTag).Following = following
	return nil
}

func (m *mockProfileRepo) SetFollower(ctx context.Context, tenant, idTag string, follower bool) error {
	m.ensureLocal(tenant, idTag).Follower = follower
	return nil
}

func (m *mockProfileRepo) SetConnection(ctx context.Context, tenant, idTag string, state string) error {
	m.ensureLocal(tenant, idTag).Connected = state
	return nil
}

func (m *mockProfileRepo) GetKey(ctx context.Context, tenant, idTag, keyID string) (*domain.ProfileKey, error) {
	return nil, domain.NotFoundError{Resource: "key"}
}

func (m *mockProfileRepo) StoreKey(ctx context.Context, key domain.ProfileKey) error { return nil }

func (m *mockProfileRepo) ensureLocal(tenant, idTag string) *domain.Profile {
	if _, ok := m.profiles[idTag]; !ok {
		m.profiles[idTag] = &domain.Profile{Tenant: tenant, IDTag: idTag}
	}
	return m.profiles[idTag]
}

type mockKeyResolver struct {
	keys map[string]string // issuerTag/keyID -> public key
}

func (m *mockKeyResolver) Resolve(ctx context.Context, tenant, issuerTag, keyID string) (string, error) {
	pub, ok := m.keys[issuerTag+"/"+keyID]
	if !ok {
		return "", federation.UnknownKeyf("no key %s for %s", keyID, issuerTag)
	}
	return pub, nil
}

type mockSyncer struct {
	synced []string
	err    error
}

func (m *mockSyncer) Sync(ctx context.Context, tenant string, a *federation.Action) error {
	m.synced = append(m.synced, a.ActionID)
	return m.err
}

type mockBus struct {
	events []federation.Event
}

func (m *mockBus) Publish(ctx context.Context, channel string, event federation.Event) error {
	m.events = append(m.events, event)
	return nil
}

type mockQueue struct {
	targets []string
	tokens  map[string]string
}

func (m *mockQueue) Enqueue(ctx context.Context, targetTag, actionID, tok string) error {
	m.targets = append(m.targets, targetTag)
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	m.tokens[targetTag] = tok
	return nil
}

// --- helpers ---

type issuer struct {
	tag   string
	priv  string
	pub   string
	keyID string
}

func newIssuer(t *testing.T, tag string) issuer {
	t.Helper()
	priv, pub, keyID, err := federation.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	return issuer{tag: tag, priv: priv, pub: pub, keyID: keyID}
}

func (i issuer) sign(t *testing.T, claims token.Claims) string {
	t.Helper()
	claims.Issuer = i.tag
	claims.KeyID = i.keyID
	if claims.IssuedAt == 0 {
		claims.IssuedAt = federation.Now()
	}
	tok, err := token.Create(claims, i.priv)
	if err != nil {
		t.Fatalf("token creation failed: %v", err)
	}
	return tok
}

type inboundFixture struct {
	pipeline *InboundPipeline
	actions  *mockActionRepo
	profiles *mockProfileRepo
	resolver *mockKeyResolver
	syncer   *mockSyncer
	bus      *mockBus
}

func newInboundFixture(issuers ...issuer) *inboundFixture {
	resolver := &mockKeyResolver{keys: map[string]string{}}
	for _, i := range issuers {
		resolver.keys[i.tag+"/"+i.keyID] = i.pub
	}
	f := &inboundFixture{
		actions:  newMockActionRepo(),
		profiles: newMockProfileRepo(),
		resolver: resolver,
		syncer:   &mockSyncer{},
		bus:      &mockBus{},
	}
	f.pipeline = NewInboundPipeline(
		registry.NewDefault(), f.resolver, f.actions, f.profiles, f.syncer, f.bus,
	)
	return f
}

const tenant = "me.example.com"

// --- tests ---

func TestInboundAcceptsFollowedIssuer(t *testing.T) {
	alice := newIssuer(t, "alice.example.com")
	f := newInboundFixture(alice)
	f.profiles.profiles[alice.tag] = &domain.Profile{Tenant: tenant, IDTag: alice.tag, Following: true}

	tok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Content: json.RawMessage(`{"text":"hello"}`),
	})

	err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	actionID := federation.ActionID(tok)
	stored, ok := f.actions.stored[actionID]
	if !ok {
		t.Fatalf("action not stored")
	}
	if stored.action.IssuerTag != alice.tag || stored.action.Type != federation.TypePost {
		t.Fatalf("unexpected stored action: %+v", stored.action)
	}
	if stored.rawToken != tok {
		t.Fatalf("raw token not preserved")
	}

	if len(f.bus.events) != 1 || f.bus.events[0].Type != domain.EventActionNew {
		t.Fatalf("expected one new-action event, got %+v", f.bus.events)
	}
	if len(f.profiles.ensured) == 0 || f.profiles.ensured[0] != alice.tag {
		t.Fatalf("issuer profile not ensured")
	}
}

func TestInboundRedeliveryIsIdempotent(t *testing.T) {
	alice := newIssuer(t, "alice.example.com")
	f := newInboundFixture(alice)
	f.profiles.profiles[alice.tag] = &domain.Profile{Tenant: tenant, IDTag: alice.tag, Following: true}

	tok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Content: json.RawMessage(`{"text":"hello"}`),
	})

	for i := 0; i < 3; i++ {
		if err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok}); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	if len(f.actions.stored) != 1 {
		t.Fatalf("expected one stored action, got %d", len(f.actions.stored))
	}
	// Hooks and notifications fire exactly once.
	if len(f.bus.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.bus.events))
	}
}

func TestInboundRejectsStranger(t *testing.T) {
	eve := newIssuer(t, "eve.example.com")
	f := newInboundFixture(eve)

	tok := eve.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Content: json.RawMessage(`{"text":"spam"}`),
	})

	err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok})
	if !errors.Is(err, federation.ErrUntrustedIssuer) {
		t.Fatalf("expected untrusted-issuer, got %v", err)
	}
	if len(f.actions.stored) != 0 {
		t.Fatalf("rejected action was stored")
	}
}

func TestInboundTrustedChannelBypassesRelationship(t *testing.T) {
	alice := newIssuer(t, "alice.example.com")
	f := newInboundFixture(alice)

	tok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Content: json.RawMessage(`{"text":"hello"}`),
	})

	err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok, Trusted: true})
	if err != nil {
		t.Fatalf("trusted delivery failed: %v", err)
	}
}

func TestInboundAllowsFollowFromStranger(t *testing.T) {
	carol := newIssuer(t, "carol.example.com")
	f := newInboundFixture(carol)

	tok := carol.sign(t, token.Claims{
		TypeTag:  federation.TypeFollow,
		Audience: tenant,
	})

	if err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok}); err != nil {
		t.Fatalf("follow from stranger rejected: %v", err)
	}
	if !f.profiles.profiles[carol.tag].Follower {
		t.Fatalf("follower flag not set")
	}
}

func TestInboundRejectsBadSignature(t *testing.T) {
	alice := newIssuer(t, "alice.example.com")
	f := newInboundFixture(alice)
	f.profiles.profiles[alice.tag] = &domain.Profile{Tenant: tenant, IDTag: alice.tag, Following: true}

	tok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Content: json.RawMessage(`{"text":"original"}`),
	})

	split := strings.Split(tok, ".")
	payload, _ := base64.RawURLEncoding.DecodeString(split[1])
	forged := strings.Replace(string(payload), "original", "forged", 1)
	split[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))
	tampered := strings.Join(split, ".")

	err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tampered})
	if !errors.Is(err, federation.ErrSignatureInvalid) {
		t.Fatalf("expected signature-invalid, got %v", err)
	}
}

func TestInboundRejectsActionIDMismatch(t *testing.T) {
	alice := newIssuer(t, "alice.example.com")
	f := newInboundFixture(alice)
	f.profiles.profiles[alice.tag] = &domain.Profile{Tenant: tenant, IDTag: alice.tag, Following: true}

	tok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Content: json.RawMessage(`{"text":"hello"}`),
	})

	err := f.pipeline.Handle(context.Background(), InboundRequest{
		Tenant:   tenant,
		ActionID: "not-the-real-id",
		Token:    tok,
	})
	if !errors.Is(err, federation.ErrInvalidToken) {
		t.Fatalf("expected invalid-token, got %v", err)
	}
}

func TestInboundResolvesRootFromParent(t *testing.T) {
	alice := newIssuer(t, "alice.example.com")
	f := newInboundFixture(alice)
	f.profiles.profiles[alice.tag] = &domain.Profile{Tenant: tenant, IDTag: alice.tag, Following: true}

	rootTok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Content: json.RawMessage(`{"text":"root"}`),
	})
	if err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: rootTok}); err != nil {
		t.Fatalf("root delivery failed: %v", err)
	}
	rootID := federation.ActionID(rootTok)

	replyTok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Parent:  rootID,
		Content: json.RawMessage(`{"text":"reply"}`),
	})
	if err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: replyTok}); err != nil {
		t.Fatalf("reply delivery failed: %v", err)
	}
	replyID := federation.ActionID(replyTok)
	if got := f.actions.stored[replyID].action.RootID; got != rootID {
		t.Fatalf("reply root %q, want %q", got, rootID)
	}

	// Grandchild points at the reply but shares the same root.
	leafTok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Parent:  replyID,
		Content: json.RawMessage(`{"text":"leaf"}`),
	})
	if err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: leafTok}); err != nil {
		t.Fatalf("leaf delivery failed: %v", err)
	}
	leafID := federation.ActionID(leafTok)
	if got := f.actions.stored[leafID].action.RootID; got != rootID {
		t.Fatalf("leaf root %q, want %q", got, rootID)
	}
}

func TestInboundRootConvergesOutOfOrder(t *testing.T) {
	alice := newIssuer(t, "alice.example.com")
	f := newInboundFixture(alice)
	f.profiles.profiles[alice.tag] = &domain.Profile{Tenant: tenant, IDTag: alice.tag, Following: true}

	rootTok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Content: json.RawMessage(`{"text":"root"}`),
	})
	rootID := federation.ActionID(rootTok)

	replyTok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Parent:  rootID,
		Content: json.RawMessage(`{"text":"reply"}`),
	})
	replyID := federation.ActionID(replyTok)

	leafTok := alice.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Parent:  replyID,
		Content: json.RawMessage(`{"text":"leaf"}`),
	})
	leafID := federation.ActionID(leafTok)

	// Delivery in reverse order: each arrival misses its parent, so the
	// roots stay unset until the ancestors land and heal downward.
	for _, tok := range []string{leafTok, replyTok, rootTok} {
		if err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok}); err != nil {
			t.Fatalf("delivery failed: %v", err)
		}
	}

	if got := f.actions.stored[leafID].action.RootID; got != rootID {
		t.Fatalf("leaf root %q, want %q", got, rootID)
	}
	if got := f.actions.stored[replyID].action.RootID; got != rootID {
		t.Fatalf("reply root %q, want %q", got, rootID)
	}
}

func TestInboundRejectsReactionOnForeignThread(t *testing.T) {
	eve := newIssuer(t, "eve.example.com")
	f := newInboundFixture(eve)

	tok := eve.sign(t, token.Claims{
		TypeTag: federation.TypeReact + ":LIKE",
		Parent:  "unknown-parent",
	})

	err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok})
	if !errors.Is(err, federation.ErrUntrustedIssuer) {
		t.Fatalf("expected untrusted-issuer, got %v", err)
	}
}

func TestInboundBlockedIssuerDenied(t *testing.T) {
	mallory := newIssuer(t, "mallory.example.com")
	f := newInboundFixture(mallory)
	f.profiles.profiles[mallory.tag] = &domain.Profile{
		Tenant: tenant, IDTag: mallory.tag,
		Following: true,
		Status:    domain.ProfileStatusBlocked,
	}

	tok := mallory.sign(t, token.Claims{
		TypeTag: federation.TypePost,
		Content: json.RawMessage(`{"text":"hi"}`),
	})

	err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok})
	if !errors.Is(err, federation.ErrUntrustedIssuer) {
		t.Fatalf("expected untrusted-issuer, got %v", err)
	}
}

func TestInboundSyncsAttachments(t *testing.T) {
	alice := newIssuer(t, "alice.example.com")
	f := newInboundFixture(alice)
	f.profiles.profiles[alice.tag] = &domain.Profile{Tenant: tenant, IDTag: alice.tag, Following: true}

	tok := alice.sign(t, token.Claims{
		TypeTag:     federation.TypeFileShr,
		Attachments: []string{"hsb1,b2"},
	})

	if err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok}); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(f.syncer.synced) != 1 {
		t.Fatalf("attachment sync not invoked")
	}
}

func TestInboundAttachmentFailureDegrades(t *testing.T) {
	alice := newIssuer(t, "alice.example.com")
	f := newInboundFixture(alice)
	f.profiles.profiles[alice.tag] = &domain.Profile{Tenant: tenant, IDTag: alice.tag, Following: true}
	f.syncer.err = federation.AttachmentFetchf("remote down")

	tok := alice.sign(t, token.Claims{
		TypeTag:     federation.TypeFileShr,
		Attachments: []string{"hsb1,b2"},
	})

	if err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok}); err != nil {
		t.Fatalf("attachment failure must not fail ingestion: %v", err)
	}
	if _, ok := f.actions.stored[federation.ActionID(tok)]; !ok {
		t.Fatalf("action not stored despite degraded attachments")
	}
}

func TestTransitionAccept(t *testing.T) {
	bob := newIssuer(t, "bob.example.com")
	f := newInboundFixture(bob)

	tok := bob.sign(t, token.Claims{
		TypeTag:  federation.TypeConnect,
		Audience: tenant,
	})
	if err := f.pipeline.Handle(context.Background(), InboundRequest{Tenant: tenant, Token: tok}); err != nil {
		t.Fatalf("connect delivery failed: %v", err)
	}
	actionID := federation.ActionID(tok)
	f.bus.events = nil

	if err := f.pipeline.Accept(context.Background(), tenant, actionID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	stored := f.actions.stored[actionID]
	if stored.action.Status == nil || *stored.action.Status != federation.StatusAccepted {
		t.Fatalf("status not accepted: %+v", stored.action.Status)
	}
	if f.profiles.profiles[bob.tag].Connected != federation.ConnConnected {
		t.Fatalf("accept did not establish the connection")
	}
	if len(f.bus.events) != 1 || f.bus.events[0].Type != domain.EventActionUpdate {
		t.Fatalf("expected one update event, got %+v", f.bus.events)
	}
}

func TestTransitionUnknownAction(t *testing.T) {
	f := newInboundFixture()
	err := f.pipeline.Accept(context.Background(), tenant, "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
