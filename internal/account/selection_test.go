package account

import (
	"testing"

	proxyerrors "github.com/antigravity-core/antigravity-proxy-go/internal/errors"
)

func TestSelectEmptyPoolReturnsNoAccountAvailable(t *testing.T) {
	p := newTestPool(t)
	_, err := p.Select("claude-sonnet-4")
	if !proxyerrors.IsNoAccountAvailable(err) {
		t.Fatalf("expected NoAccountAvailable, got %v", err)
	}
}

func TestSelectPrefersLeastRecentlyUsed(t *testing.T) {
	p := newTestPool(t)
	p.Add(&Account{Email: "a@example.com", Enabled: true, Status: StatusOK, LastUsedMs: 500})
	p.Add(&Account{Email: "b@example.com", Enabled: true, Status: StatusOK, LastUsedMs: 100})

	acc, err := p.Select("gemini-1.5-flash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.Email != "b@example.com" {
		t.Fatalf("expected least-recently-used account b, got %s", acc.Email)
	}
}

func TestSelectBumpsLastUsed(t *testing.T) {
	p := newTestPool(t)
	p.Add(&Account{Email: "a@example.com", Enabled: true, Status: StatusOK, LastUsedMs: 100})

	acc, err := p.Select("claude-sonnet-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.LastUsedMs == 100 {
		t.Fatalf("expected selection to bump lastUsed")
	}
	if p.Get("a@example.com").LastUsedMs == 100 {
		t.Fatalf("expected lastUsed bump to be recorded in the pool")
	}
}

func TestSelectSkipsInvalid(t *testing.T) {
	p := newTestPool(t)
	p.Add(&Account{Email: "a@example.com", Enabled: true, Status: StatusOK, IsInvalid: true})
	p.Add(&Account{Email: "b@example.com", Enabled: true, Status: StatusOK})

	acc, err := p.Select("claude-sonnet-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.Email != "b@example.com" {
		t.Fatalf("expected invalid account to be skipped, got %s", acc.Email)
	}
}

func TestSelectAllInvalidReturnsNoAccountAvailable(t *testing.T) {
	p := newTestPool(t)
	p.Add(&Account{Email: "a@example.com", Enabled: true, IsInvalid: true})

	_, err := p.Select("claude-sonnet-4")
	if !proxyerrors.IsNoAccountAvailable(err) {
		t.Fatalf("expected NoAccountAvailable, got %v", err)
	}
}

func TestSelectDisabledAccountsExcluded(t *testing.T) {
	p := newTestPool(t)
	p.Add(&Account{Email: "a@example.com", Enabled: false, Status: StatusOK})

	_, err := p.Select("claude-sonnet-4")
	if !proxyerrors.IsNoAccountAvailable(err) {
		t.Fatalf("expected NoAccountAvailable for all-disabled pool, got %v", err)
	}
}

func TestSelectPrefersQuotaAboveCriticalForCoreModels(t *testing.T) {
	p := newTestPool(t)
	p.Add(&Account{Email: "low@example.com", Enabled: true, Status: StatusOK, LastUsedMs: 0})
	p.Add(&Account{Email: "high@example.com", Enabled: true, Status: StatusOK, LastUsedMs: 1000})
	p.UpdateQuota("low@example.com", "claude-sonnet-4-5", 0.01)
	p.UpdateQuota("high@example.com", "claude-sonnet-4-5", 0.5)

	acc, err := p.Select("claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.Email != "high@example.com" {
		t.Fatalf("expected account with quota above critical threshold, got %s", acc.Email)
	}
}

func TestSelectFallsBackCoreQuotaWhenModelUnobserved(t *testing.T) {
	p := newTestPool(t)
	p.Add(&Account{Email: "a@example.com", Enabled: true, Status: StatusOK})
	// No observation for the requested model; the core-model observation
	// stands in for it.
	p.UpdateQuota("a@example.com", "gemini-3-pro", 0.01)

	// Exhausted core quota pushes the account out of the preferred tier, but
	// the ok fallback still serves it rather than failing.
	acc, err := p.Select("claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.Email != "a@example.com" {
		t.Fatalf("unexpected account: %s", acc.Email)
	}
}

func TestSelectFallsBackToUnknownThenLimited(t *testing.T) {
	p := newTestPool(t)
	p.Add(&Account{Email: "unknown@example.com", Enabled: true, Status: StatusUnknown})
	p.Add(&Account{Email: "limited@example.com", Enabled: true, Status: StatusLimited, StatusUntilMs: 9999999999999})

	acc, err := p.Select("claude-sonnet-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.Email != "unknown@example.com" {
		t.Fatalf("expected unknown preferred over limited, got %s", acc.Email)
	}

	p.Remove("unknown@example.com")
	acc, err = p.Select("claude-sonnet-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.Email != "limited@example.com" {
		t.Fatalf("expected limited as last resort, got %s", acc.Email)
	}
}

func TestSelectSkipsErrorStatusUntilWindowClears(t *testing.T) {
	p := newTestPool(t)
	p.Add(&Account{Email: "err@example.com", Enabled: true})
	p.MarkError("err@example.com", 9999999999999)

	_, err := p.Select("claude-sonnet-4")
	nae, ok := err.(*proxyerrors.NoAccountAvailable)
	if !ok {
		t.Fatalf("expected NoAccountAvailable while erroring, got %v", err)
	}
	if !nae.AllRateLimited {
		t.Fatalf("expected AllRateLimited flag when candidates exist but none are eligible")
	}

	// Expired error window drops the account back to unknown.
	p.MarkError("err@example.com", 1)
	acc, err := p.Select("claude-sonnet-4")
	if err != nil {
		t.Fatalf("unexpected error after window cleared: %v", err)
	}
	if acc.Email != "err@example.com" {
		t.Fatalf("unexpected account: %s", acc.Email)
	}
}
