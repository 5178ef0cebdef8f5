package push

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pathakanu/pushminder/internal/database"
	"github.com/pathakanu/pushminder/internal/model"
	"github.com/pathakanu/pushminder/internal/registry"
	"github.com/pathakanu/pushminder/internal/vapid"
)

var testOwner = model.Owner{TenantID: "clinic", UserID: "patient-1"}

type fixture struct {
	registry *registry.Registry
	sender   *Sender
	signer   *vapid.Signer
	server   *httptest.Server

	mu       sync.Mutex
	statuses map[string]int
	requests []*http.Request
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := fmt.Sprintf("%s_%d", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	db, err := database.OpenMemory(name)
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}

	public, private, err := vapid.GenerateKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}

	f := &fixture{
		registry: registry.New(db),
		signer:   vapid.New(vapid.Credentials{PublicKey: public, PrivateKey: private, Subject: "mailto:ops@example.com"}),
		statuses: map[string]int{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(context.Background()))
		status, ok := f.statuses[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			status = http.StatusCreated
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(f.server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.sender = NewSender(f.registry, f.signer, NewHTTPTransport(2*time.Second), 60, logger)
	return f
}

func (f *fixture) subscribe(t *testing.T, path string, status int) *model.PushSubscription {
	t.Helper()
	point := make([]byte, 65)
	point[0] = 0x04
	sub, err := model.NewPushSubscription(testOwner, f.server.URL+path,
		base64.RawURLEncoding.EncodeToString(point),
		base64.RawURLEncoding.EncodeToString(make([]byte, 16)),
		time.Now())
	if err != nil {
		t.Fatalf("new subscription: %v", err)
	}
	stored, err := f.registry.Upsert(context.Background(), sub)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	f.mu.Lock()
	f.statuses[path] = status
	f.mu.Unlock()
	return stored
}

func TestDeliverOneSentOneGone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.subscribe(t, "/ok", http.StatusOK)
	gone := f.subscribe(t, "/gone", http.StatusGone)

	summary, err := f.sender.Deliver(ctx, testOwner)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if summary.Attempted != 2 || summary.Sent != 1 || summary.Failed != 1 || summary.Deactivated != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Status != http.StatusGone {
		t.Fatalf("unexpected failures %+v", summary.Failures)
	}

	stored, err := f.registry.Get(ctx, gone.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Active {
		t.Fatalf("410 subscription should be inactive")
	}

	next, err := f.sender.Deliver(ctx, testOwner)
	if err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if next.Attempted != 1 || next.Sent != 1 {
		t.Fatalf("gone subscription was not excluded: %+v", next)
	}
}

func TestDeliverNotFoundDeactivates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	sub := f.subscribe(t, "/missing", http.StatusNotFound)
	summary, err := f.sender.Deliver(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if summary.Deactivated != 1 {
		t.Fatalf("expected deactivation, got %+v", summary)
	}
	stored, _ := f.registry.Get(context.Background(), sub.ID)
	if stored.Active {
		t.Fatalf("404 subscription should be inactive")
	}
}

func TestDeliverTransientFailureKeepsSubscription(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sub := f.subscribe(t, "/flaky", http.StatusInternalServerError)
	summary, err := f.sender.Deliver(ctx, testOwner)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if summary.Attempted != 1 || summary.Failed != 1 || summary.Deactivated != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	stored, _ := f.registry.Get(ctx, sub.ID)
	if !stored.Active {
		t.Fatalf("500 must not deactivate the subscription")
	}
	again, _ := f.sender.Deliver(ctx, testOwner)
	if again.Attempted != 1 {
		t.Fatalf("transient failure should be retried next time, got %+v", again)
	}
}

func TestDeliverRequestShape(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.subscribe(t, "/shape", http.StatusCreated)
	if _, err := f.sender.Deliver(context.Background(), testOwner); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(f.requests))
	}
	req := f.requests[0]
	pub := f.signer.PublicKey()

	if req.Method != http.MethodPost || req.Header.Get("TTL") != "60" {
		t.Fatalf("unexpected method/TTL: %s %q", req.Method, req.Header.Get("TTL"))
	}
	if got := req.Header.Get("Crypto-Key"); got != "p256ecdsa="+pub {
		t.Fatalf("Crypto-Key = %q", got)
	}
	auth := req.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "vapid t=") || !strings.HasSuffix(auth, ", k="+pub) {
		t.Fatalf("Authorization = %q", auth)
	}
	token := strings.TrimSuffix(strings.TrimPrefix(auth, "vapid t="), ", k="+pub)
	claims, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	if !strings.Contains(string(claims), `"aud":"`+f.server.URL+`"`) {
		t.Fatalf("audience should be the endpoint origin, claims = %s", claims)
	}
}

func TestDeliverUnconfiguredSigner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.subscribe(t, "/a", http.StatusCreated)
	f.subscribe(t, "/b", http.StatusCreated)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := NewSender(f.registry, vapid.New(vapid.Credentials{}), NewHTTPTransport(time.Second), 60, logger)
	summary, err := sender.Deliver(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if summary.Attempted != 2 || summary.Failed != 2 || summary.Sent != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	for _, failure := range summary.Failures {
		if failure.Transport != TransportVAPID {
			t.Fatalf("expected vapid failure, got %+v", failure)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) != 0 {
		t.Fatalf("no request should be sent without credentials")
	}
}

func TestDeliverNoSubscriptions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	summary, err := f.sender.Deliver(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if summary.Attempted != 0 || summary.Failures == nil {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

type staticSubscriptions struct {
	subs        []model.PushSubscription
	deactivated []string
}

func (s *staticSubscriptions) ActiveForOwner(context.Context, model.Owner) ([]model.PushSubscription, error) {
	return s.subs, nil
}

func (s *staticSubscriptions) Deactivate(_ context.Context, id string) error {
	s.deactivated = append(s.deactivated, id)
	return nil
}

type countingTransport struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTransport) Post(context.Context, string, http.Header) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return Result{OK: true, StatusCode: http.StatusCreated, Transport: "counting"}
}

func TestDeliverMalformedEndpointFailsClosed(t *testing.T) {
	t.Parallel()

	public, private, err := vapid.GenerateKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	subs := &staticSubscriptions{subs: []model.PushSubscription{
		{ID: "bad", Endpoint: "not a url"},
		{ID: "good", Endpoint: "https://push.example/ok"},
	}}
	transport := &countingTransport{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	signer := vapid.New(vapid.Credentials{PublicKey: public, PrivateKey: private, Subject: "mailto:ops@example.com"})

	summary, err := NewSender(subs, signer, transport, 60, logger).Deliver(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if summary.Attempted != 2 || summary.Sent != 1 || summary.Failed != 1 || summary.Deactivated != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Failures[0].Transport != TransportValidation {
		t.Fatalf("expected validation failure, got %+v", summary.Failures[0])
	}
	if transport.calls != 1 || len(subs.deactivated) != 0 {
		t.Fatalf("calls=%d deactivated=%v", transport.calls, subs.deactivated)
	}
}
