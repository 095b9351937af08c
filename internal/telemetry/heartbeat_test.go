package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antigravity-core/antigravity-proxy-go/internal/account"
	"github.com/antigravity-core/antigravity-proxy-go/internal/fetch"
)

func TestActiveAccountFilterSelectsOnlyRecentlyUsed(t *testing.T) {
	p := account.NewPool(filepath.Join(t.TempDir(), "accounts.json"))
	p.Add(&account.Account{Email: "active@example.com", Enabled: true, ProjectID: "proj-active"})
	p.Add(&account.Account{Email: "idle@example.com", Enabled: true, ProjectID: "proj-idle"})

	p.MarkUsed("active@example.com")
	// idle@example.com is left with LastUsedMs == 0, i.e. never used.

	loop := New(p, account.NewTokenManager(p), fetch.NewStreaming())
	active := loop.activeAccounts()

	if len(active) != 1 || active[0].Email != "active@example.com" {
		t.Fatalf("expected only the recently-used account to be active, got %+v", active)
	}
}

func TestActiveAccountFilterSkipsInvalid(t *testing.T) {
	p := account.NewPool(filepath.Join(t.TempDir(), "accounts.json"))
	p.Add(&account.Account{Email: "bad@example.com", Enabled: true, ProjectID: "proj"})
	p.MarkUsed("bad@example.com")
	p.MarkInvalid("bad@example.com")

	loop := New(p, account.NewTokenManager(p), fetch.NewStreaming())
	if active := loop.activeAccounts(); len(active) != 0 {
		t.Fatalf("expected invalid accounts to never be heartbeated, got %+v", active)
	}
}

func TestNotifyActivityRecordsTimestamp(t *testing.T) {
	loop := New(account.NewPool(filepath.Join(t.TempDir(), "accounts.json")), nil, fetch.NewStreaming())
	if !loop.lastActivity.IsZero() {
		t.Fatalf("expected zero lastActivity before NotifyActivity")
	}
	loop.NotifyActivity()
	if loop.lastActivity.IsZero() {
		t.Fatalf("expected NotifyActivity to set lastActivity")
	}
}

func TestEmitForAccountSkipsWithoutProjectID(t *testing.T) {
	p := account.NewPool(filepath.Join(t.TempDir(), "accounts.json"))
	p.Add(&account.Account{Email: "noproject@example.com", Enabled: true, RefreshToken: "rt|"})

	loop := New(p, account.NewTokenManager(p), fetch.NewStreaming())
	// Returns before touching tokens or the network.
	loop.emitForAccount(context.Background(), p.Get("noproject@example.com"))
}

func TestSessionIDForIsStable(t *testing.T) {
	loop := New(account.NewPool(filepath.Join(t.TempDir(), "accounts.json")), nil, fetch.NewStreaming())
	first := loop.sessionIDFor("a@example.com")
	second := loop.sessionIDFor("a@example.com")
	if first != second {
		t.Fatalf("expected stable session id for the same account")
	}
	other := loop.sessionIDFor("b@example.com")
	if other == first {
		t.Fatalf("expected distinct session ids for distinct accounts")
	}
}

func TestProjectResolutionPrefersSubscription(t *testing.T) {
	p := account.NewPool(filepath.Join(t.TempDir(), "accounts.json"))
	p.Add(&account.Account{Email: "a@example.com", Enabled: true, ProjectID: "static-proj"})
	p.SetSubscription("a@example.com", account.TierPro, "discovered-proj")

	if got := p.Get("a@example.com").EffectiveProjectID(); got != "discovered-proj" {
		t.Fatalf("expected subscription project id to win, got %q", got)
	}
}

func TestEmitForAccountSendsHeartbeatsForActiveAccount(t *testing.T) {
	type captured struct {
		path    string
		auth    string
		ua      string
		project string
	}
	var mu sync.Mutex
	var requests []captured

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		json.Unmarshal(data, &body)
		project, _ := body["project"].(string)
		mu.Lock()
		requests = append(requests, captured{
			path:    r.URL.Path,
			auth:    r.Header.Get("Authorization"),
			ua:      r.Header.Get("User-Agent"),
			project: project,
		})
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := account.NewPool(filepath.Join(t.TempDir(), "accounts.json"))
	p.Add(&account.Account{Email: "active@example.com", Enabled: true, ProjectID: "proj-active", RefreshToken: "rt|proj-active"})
	p.MarkUsed("active@example.com")

	tokens := account.NewTokenManager(p)
	tokens.Prime("active@example.com", "mock-token", time.Now().Add(time.Hour))

	loop := New(p, tokens, fetch.NewWithClient(srv.Client()))
	loop.baseURL = srv.URL

	// Endpoint calls are probabilistic; a few passes make at least one hit
	// overwhelmingly likely.
	acc := p.Get("active@example.com")
	for i := 0; i < 5; i++ {
		loop.emitForAccount(context.Background(), acc)
		mu.Lock()
		n := len(requests)
		mu.Unlock()
		if n > 0 {
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) == 0 {
		t.Fatalf("expected at least one heartbeat request")
	}
	for _, req := range requests {
		if req.project != "proj-active" {
			t.Fatalf("expected heartbeat body project proj-active, got %q", req.project)
		}
		if req.auth != "Bearer mock-token" {
			t.Fatalf("expected primed bearer token, got %q", req.auth)
		}
		if !strings.Contains(req.ua, "Mozilla") {
			t.Fatalf("expected browser-like User-Agent, got %q", req.ua)
		}
		if !strings.HasPrefix(req.path, "/v1internal:") {
			t.Fatalf("unexpected heartbeat path %q", req.path)
		}
	}
}

func TestNextIntervalStaysInScheduleBand(t *testing.T) {
	sawBelowBase := false
	sawAboveBase := false
	for i := 0; i < 1000; i++ {
		interval := nextIntervalMs()
		if interval < 30000 || interval >= 60000 {
			t.Fatalf("expected interval in the 30-60s band, got %dms", interval)
		}
		if interval < 45000 {
			sawBelowBase = true
		}
		if interval > 45000 {
			sawAboveBase = true
		}
	}
	if !sawBelowBase || !sawAboveBase {
		t.Fatalf("expected jitter to spread on both sides of the base interval")
	}
}

func TestBuildInteractionEventsRecentActivityIsTyping(t *testing.T) {
	events := buildInteractionEvents(time.Now().UnixMilli(), true)
	if len(events) < 3 || len(events) > 8 {
		t.Fatalf("expected 3-8 events for recent activity, got %d", len(events))
	}
	for _, e := range events {
		if e["event_type"] != "TYPING" {
			t.Fatalf("expected all events to be TYPING, got %v", e["event_type"])
		}
		if !strings.Contains(e["surface"].(string), "EDITOR_PANE") {
			t.Fatalf("expected EDITOR_PANE surface, got %v", e["surface"])
		}
	}
}

func TestBuildInteractionEventsIdleIsScrollOrMouseOver(t *testing.T) {
	events := buildInteractionEvents(time.Now().UnixMilli(), false)
	if len(events) == 0 {
		t.Fatalf("expected at least one event")
	}
	for _, e := range events {
		et := e["event_type"].(string)
		if et != "SCROLL" && et != "MOUSE_OVER" && et != "WINDOW_FOCUS" && et != "WINDOW_BLUR" {
			t.Fatalf("unexpected event type %s", et)
		}
	}
}

func TestBuildCodeAssistMetricsBodyShapeIsValid(t *testing.T) {
	body := buildCodeAssistMetricsBody(nil, "proj-1", "session-1", 0)
	if body["project"] != "proj-1" || body["session_id"] != "session-1" {
		t.Fatalf("unexpected body envelope: %+v", body)
	}
	metrics := body["code_assist_metrics"].(map[string]interface{})
	shown := metrics["completions_shown"].(int)
	if shown < 1 || shown > 3 {
		t.Fatalf("expected shown in [1,3], got %d", shown)
	}
	accepted := metrics["completions_accepted"].(int)
	if accepted != 0 && accepted != 1 {
		t.Fatalf("expected accepted to be 0 or 1, got %d", accepted)
	}
	rate := metrics["accept_rate"].(float64)
	if want := float64(accepted) / float64(shown); rate != want {
		t.Fatalf("expected accept_rate %v, got %v", want, rate)
	}
}
