// Package account implements the Account Pool & Token Manager: the
// authoritative registry of configured CodeAssist accounts, their OAuth
// credentials, quota state, device fingerprints, and the single selection
// policy used to pick an account for an incoming request.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	proxyerrors "github.com/antigravity-core/antigravity-proxy-go/internal/errors"
	"github.com/antigravity-core/antigravity-proxy-go/internal/fingerprint"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
	"github.com/antigravity-core/antigravity-proxy-go/pkg/redis"
)

// Source records how an account entered the pool.
type Source string

const (
	SourceManual   Source = "manual"
	SourceOAuth    Source = "oauth"
	SourceImported Source = "imported"
)

// Status is the runtime health of an account as derived from upstream
// signals. It gates selection eligibility; invalid accounts are tracked by
// the separate terminal IsInvalid flag.
type Status string

const (
	StatusOK      Status = "ok"
	StatusLimited Status = "limited"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// Tier is the subscription level reported by upstream for an account.
type Tier string

const (
	TierUltra Tier = "ultra"
	TierPro   Tier = "pro"
	TierFree  Tier = "free"
)

// ModelQuota holds the last-observed quota fraction for one model.
type ModelQuota struct {
	RemainingFraction float64 `json:"remainingFraction"`
	LastCheckedMs     int64   `json:"lastCheckedMs,omitempty"`
}

// Subscription is the upstream-reported subscription state of an account:
// its tier, the tenant project, and per-model quota observations.
type Subscription struct {
	Tier      Tier                   `json:"tier,omitempty"`
	ProjectID string                 `json:"projectId,omitempty"`
	Quotas    map[string]*ModelQuota `json:"quotas,omitempty"` // keyed by model id
}

// Fingerprint rotation reasons recorded in an account's history.
const (
	FingerprintRegenerated = "regenerated"
	FingerprintRestored    = "restored"
	FingerprintInvalidated = "invalidated"
)

// FingerprintRecord is one retired fingerprint plus why and when it was
// retired. History is newest-first and capped at
// config.MaxFingerprintHistory.
type FingerprintRecord struct {
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint"`
	Reason      string                   `json:"reason"`
	TimestampMs int64                    `json:"timestamp"`
}

// Account is one configured CodeAssist account. All mutation goes through
// Pool methods, which hold Pool.mu for the duration; Account itself carries
// no lock so snapshots returned to callers are plain copies.
type Account struct {
	Email        string `json:"email"`
	Source       Source `json:"source,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"` // composite: token|projectId|managedProjectId
	APIKey       string `json:"apiKey,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
	Enabled      bool   `json:"enabled"`

	// IsInvalid is terminal: a 401 or persistent refresh failure sets it,
	// and nothing clears it short of an operator re-adding the credential.
	IsInvalid bool `json:"isInvalid"`

	Status Status `json:"status"`
	// StatusUntilMs bounds a transient limited/error status; once elapsed
	// the account drops back to unknown.
	StatusUntilMs int64  `json:"statusUntilMs,omitempty"`
	LimitedModel  string `json:"limitedModel,omitempty"`

	Subscription *Subscription `json:"subscription,omitempty"`

	LastUsedMs       int64 `json:"lastUsed,omitempty"`
	ConsecutiveFails int   `json:"consecutiveFails,omitempty"`

	Fingerprint        *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	FingerprintHistory []*FingerprintRecord     `json:"fingerprintHistory,omitempty"`
}

// clone returns a deep-enough copy safe to hand to callers outside the
// Pool's lock. Fingerprints themselves are immutable once generated, so
// sharing their pointers is fine; the containers around them are copied.
func (a *Account) clone() *Account {
	cp := *a
	if a.Subscription != nil {
		sub := *a.Subscription
		sub.Quotas = make(map[string]*ModelQuota, len(a.Subscription.Quotas))
		for k, v := range a.Subscription.Quotas {
			q := *v
			sub.Quotas[k] = &q
		}
		cp.Subscription = &sub
	}
	if a.FingerprintHistory != nil {
		cp.FingerprintHistory = make([]*FingerprintRecord, len(a.FingerprintHistory))
		copy(cp.FingerprintHistory, a.FingerprintHistory)
	}
	return &cp
}

// effectiveProjectID resolves the project id for outbound calls, preferring
// the subscription's discovered tenant over the statically configured one.
func (a *Account) effectiveProjectID() string {
	if a.Subscription != nil && a.Subscription.ProjectID != "" {
		return a.Subscription.ProjectID
	}
	return a.ProjectID
}

// EffectiveProjectID is effectiveProjectID for callers holding a snapshot.
func (a *Account) EffectiveProjectID() string { return a.effectiveProjectID() }

// accountFile is the on-disk shape of accounts.json.
type accountFile struct {
	Accounts []*Account `json:"accounts"`
}

// Pool owns the set of configured accounts and persists them to
// config.AccountConfigPath. accounts.json is always the source of truth;
// an optional Redis mirror (set via SetMirror) is written through on every
// Save so an operator's shared Redis reflects account state without the
// proxy's local filesystem being the only place to look.
type Pool struct {
	mu       sync.RWMutex
	path     string
	accounts map[string]*Account // keyed by email
	order    []string            // insertion order, for stable iteration
	mirror   *redis.AccountStore
}

// NewPool creates an empty Pool bound to path (config.AccountConfigPath if
// empty).
func NewPool(path string) *Pool {
	if path == "" {
		path = config.AccountConfigPath
	}
	return &Pool{
		path:     path,
		accounts: make(map[string]*Account),
	}
}

// SetMirror wires an optional Redis mirror. A nil client disables mirroring.
func (p *Pool) SetMirror(client *redis.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirror = redis.NewAccountStore(client)
}

// mirrorWriteThrough pushes the current pool state to the Redis mirror, if
// configured. Failures are logged, never returned: the mirror is a
// convenience, not a dependency of correctness.
func (p *Pool) mirrorWriteThrough() {
	p.mu.RLock()
	mirror := p.mirror
	accounts := make([]*Account, 0, len(p.accounts))
	for _, email := range p.order {
		accounts = append(accounts, p.accounts[email].clone())
	}
	p.mu.RUnlock()

	if !mirror.IsAvailable() {
		return
	}
	ctx := context.Background()
	for _, a := range accounts {
		err := mirror.SetAccount(ctx, &redis.Account{
			Email:        a.Email,
			RefreshToken: a.RefreshToken,
			ProjectID:    a.effectiveProjectID(),
			Enabled:      a.Enabled,
			IsInvalid:    a.IsInvalid,
			Status:       string(a.Status),
			LastUsed:     a.LastUsedMs,
		})
		if err != nil {
			utils.Warn("[account] redis mirror write failed for %s: %v", a.Email, err)
		}
	}
}

// Load reads accounts.json from disk, replacing the in-memory pool. A
// missing file is not an error: it yields an empty pool so a fresh install
// can still boot (accounts are added via cmd/accounts). Accounts missing a
// fingerprint get one synthesized, and legacy fingerprints are migrated to
// the current user-agent format; either change is persisted immediately.
func (p *Pool) Load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read accounts file: %w", err)
	}

	var file accountFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse accounts file: %w", err)
	}

	changed := false
	p.mu.Lock()
	p.accounts = make(map[string]*Account, len(file.Accounts))
	p.order = p.order[:0]
	for _, a := range file.Accounts {
		if a.Status == "" {
			a.Status = StatusUnknown
		}
		if a.Fingerprint == nil {
			a.Fingerprint = fingerprint.Generate()
			changed = true
		} else if updated := fingerprint.UpdateVersion(a.Fingerprint); updated != a.Fingerprint {
			a.Fingerprint = updated
			changed = true
		}
		p.accounts[a.Email] = a
		p.order = append(p.order, a.Email)
	}
	p.mu.Unlock()

	if changed {
		return p.Save()
	}
	return nil
}

// Save persists the pool to disk atomically: write to a temp file in the
// same directory, then rename over the target so a crash mid-write never
// leaves a truncated accounts.json.
func (p *Pool) Save() error {
	p.mu.RLock()
	file := accountFile{Accounts: make([]*Account, 0, len(p.accounts))}
	for _, email := range p.order {
		file.Accounts = append(file.Accounts, p.accounts[email].clone())
	}
	p.mu.RUnlock()

	if err := utils.EnsureParentDir(p.path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return err
	}

	p.mirrorWriteThrough()
	return nil
}

// Add registers a new account (or replaces an existing one with the same
// email) and persists the pool. A fingerprint is generated if the caller
// didn't bring one.
func (p *Pool) Add(a *Account) error {
	if a.Status == "" {
		a.Status = StatusUnknown
	}
	if a.Fingerprint == nil {
		a.Fingerprint = fingerprint.Generate()
	}

	p.mu.Lock()
	if _, exists := p.accounts[a.Email]; !exists {
		p.order = append(p.order, a.Email)
	}
	p.accounts[a.Email] = a
	p.mu.Unlock()

	return p.Save()
}

// Remove deletes an account by email and persists the pool.
func (p *Pool) Remove(email string) error {
	p.mu.Lock()
	delete(p.accounts, email)
	for i, e := range p.order {
		if e == email {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	mirror := p.mirror
	p.mu.Unlock()

	if mirror.IsAvailable() {
		if err := mirror.DeleteAccount(context.Background(), email); err != nil {
			utils.Warn("[account] redis mirror delete failed for %s: %v", email, err)
		}
	}

	return p.Save()
}

// Get returns a copy of the account with the given email, or nil.
func (p *Pool) Get(email string) *Account {
	p.mu.RLock()
	a, ok := p.accounts[email]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	return a.clone()
}

// All returns copies of every registered account in registration order.
func (p *Pool) All() []*Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Account, 0, len(p.order))
	for _, email := range p.order {
		out = append(out, p.accounts[email].clone())
	}
	return out
}

// Count returns the number of registered accounts.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.accounts)
}

// SetEnabled flips an account's enabled flag.
func (p *Pool) SetEnabled(email string, enabled bool) {
	p.mu.Lock()
	if a, ok := p.accounts[email]; ok {
		a.Enabled = enabled
	}
	p.mu.Unlock()
}

// MarkLimited records a 429 for an account: status drops to limited until
// untilMs and the model that tripped the limit is remembered. A 429 never
// invalidates the account.
func (p *Pool) MarkLimited(email, modelID string, untilMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	if !ok {
		return
	}
	a.Status = StatusLimited
	a.StatusUntilMs = untilMs
	a.LimitedModel = modelID
}

// MarkError records a post-retry 5xx for an account: status drops to error
// transiently (until untilMs), after which the account is re-eligible as
// unknown.
func (p *Pool) MarkError(email string, untilMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	if !ok {
		return
	}
	a.Status = StatusError
	a.StatusUntilMs = untilMs
	a.ConsecutiveFails++
}

// MarkInvalid terminally invalidates an account after a 401 or persistent
// refresh failure. Invalid accounts are never selected and never
// heartbeated.
func (p *Pool) MarkInvalid(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	if !ok {
		return
	}
	a.IsInvalid = true
	a.Status = StatusError
	a.ConsecutiveFails++
}

// MarkUsed records a successful request through an account: bumps lastUsed,
// restores status to ok, and clears failure counters.
func (p *Pool) MarkUsed(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	if !ok {
		return
	}
	a.LastUsedMs = utils.NowMs()
	a.Status = StatusOK
	a.StatusUntilMs = 0
	a.LimitedModel = ""
	a.ConsecutiveFails = 0
}

// UpdateQuota records the latest observed quota fraction for a model on an
// account, creating the subscription container on first observation.
func (p *Pool) UpdateQuota(email, modelID string, remainingFraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	if !ok {
		return
	}
	if a.Subscription == nil {
		a.Subscription = &Subscription{}
	}
	if a.Subscription.Quotas == nil {
		a.Subscription.Quotas = make(map[string]*ModelQuota)
	}
	a.Subscription.Quotas[modelID] = &ModelQuota{
		RemainingFraction: remainingFraction,
		LastCheckedMs:     utils.NowMs(),
	}
}

// SetSubscription records the upstream-reported tier and tenant project for
// an account.
func (p *Pool) SetSubscription(email string, tier Tier, projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	if !ok {
		return
	}
	if a.Subscription == nil {
		a.Subscription = &Subscription{}
	}
	a.Subscription.Tier = tier
	if projectID != "" {
		a.Subscription.ProjectID = projectID
	}
}

// pushFingerprintHistoryLocked retires the current fingerprint to the head
// of the history with the given reason, truncating to the cap. Callers must
// hold p.mu.
func pushFingerprintHistoryLocked(a *Account, reason string) {
	if a.Fingerprint == nil {
		return
	}
	record := &FingerprintRecord{
		Fingerprint: a.Fingerprint,
		Reason:      reason,
		TimestampMs: utils.NowMs(),
	}
	a.FingerprintHistory = append([]*FingerprintRecord{record}, a.FingerprintHistory...)
	if len(a.FingerprintHistory) > config.MaxFingerprintHistory {
		a.FingerprintHistory = a.FingerprintHistory[:config.MaxFingerprintHistory]
	}
}

// RegenerateFingerprint retires an account's current fingerprint to history
// and installs a freshly generated one.
func (p *Pool) RegenerateFingerprint(email string) (*fingerprint.Fingerprint, error) {
	p.mu.Lock()
	a, ok := p.accounts[email]
	if !ok {
		p.mu.Unlock()
		return nil, proxyerrors.NewInvalidArgument(fmt.Sprintf("no such account: %s", email))
	}
	pushFingerprintHistoryLocked(a, FingerprintRegenerated)
	a.Fingerprint = fingerprint.Generate()
	fp := a.Fingerprint
	p.mu.Unlock()

	return fp, p.Save()
}

// InvalidateFingerprint retires an account's current fingerprint with the
// invalidated reason (e.g. after upstream started rejecting the device) and
// installs a fresh one.
func (p *Pool) InvalidateFingerprint(email string) (*fingerprint.Fingerprint, error) {
	p.mu.Lock()
	a, ok := p.accounts[email]
	if !ok {
		p.mu.Unlock()
		return nil, proxyerrors.NewInvalidArgument(fmt.Sprintf("no such account: %s", email))
	}
	pushFingerprintHistoryLocked(a, FingerprintInvalidated)
	a.Fingerprint = fingerprint.Generate()
	fp := a.Fingerprint
	p.mu.Unlock()

	return fp, p.Save()
}

// RestoreFingerprint reinstates the history entry at index as the current
// fingerprint. The outgoing current fingerprint is itself pushed to the
// history head, and the restored entry is removed so it never appears both
// as current and in history.
func (p *Pool) RestoreFingerprint(email string, index int) (*fingerprint.Fingerprint, error) {
	p.mu.Lock()
	a, ok := p.accounts[email]
	if !ok {
		p.mu.Unlock()
		return nil, proxyerrors.NewInvalidArgument(fmt.Sprintf("no such account: %s", email))
	}
	if index < 0 || index >= len(a.FingerprintHistory) {
		p.mu.Unlock()
		return nil, proxyerrors.NewInvalidArgument(fmt.Sprintf("fingerprint history index %d out of range [0,%d)", index, len(a.FingerprintHistory)))
	}

	// Take the target entry out before pushing: at a full history the push
	// truncates the tail, which would evict exactly the entry being
	// restored.
	restored := a.FingerprintHistory[index]
	a.FingerprintHistory = append(a.FingerprintHistory[:index], a.FingerprintHistory[index+1:]...)
	pushFingerprintHistoryLocked(a, FingerprintRestored)
	a.Fingerprint = restored.Fingerprint
	fp := a.Fingerprint
	p.mu.Unlock()

	return fp, p.Save()
}

// AccountStatus is the secret-free per-account view exposed to status
// endpoints and the CLI. Credentials and the fingerprint itself are
// deliberately absent.
type AccountStatus struct {
	Email          string        `json:"email"`
	Source         Source        `json:"source,omitempty"`
	Enabled        bool          `json:"enabled"`
	IsInvalid      bool          `json:"isInvalid"`
	Status         Status        `json:"status"`
	Subscription   *Subscription `json:"subscription,omitempty"`
	LastUsedMs     int64         `json:"lastUsed,omitempty"`
	HasFingerprint bool          `json:"hasFingerprint"`
}

// GetStatus returns the safe status view for every account.
func (p *Pool) GetStatus() []AccountStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AccountStatus, 0, len(p.order))
	for _, email := range p.order {
		a := p.accounts[email].clone()
		out = append(out, AccountStatus{
			Email:          a.Email,
			Source:         a.Source,
			Enabled:        a.Enabled,
			IsInvalid:      a.IsInvalid,
			Status:         a.Status,
			Subscription:   a.Subscription,
			LastUsedMs:     a.LastUsedMs,
			HasFingerprint: a.Fingerprint != nil,
		})
	}
	return out
}

// Summary is the pool-level rollup used by /health: how many enabled
// accounts exist and how many of them are active vs limited.
type Summary struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Limited int `json:"limited"`
}

// Rollup computes the Summary over enabled accounts. An account counts as
// active iff its status is ok and at least one core-model quota is above
// the critical threshold; if it has no core-model quota observations at
// all, any model's quota counts. Everything else enabled is limited.
func (p *Pool) Rollup() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var s Summary
	for _, a := range p.accounts {
		if !a.Enabled {
			continue
		}
		s.Total++
		if a.Status == StatusOK && !a.IsInvalid && hasUsableQuota(a) {
			s.Active++
		} else {
			s.Limited++
		}
	}
	return s
}

// hasUsableQuota implements the rollup quota rule.
func hasUsableQuota(a *Account) bool {
	if a.Subscription == nil || len(a.Subscription.Quotas) == 0 {
		return true
	}
	sawCore := false
	for modelID, q := range a.Subscription.Quotas {
		if !config.IsCoreModel(modelID) {
			continue
		}
		sawCore = true
		if q.RemainingFraction > config.DefaultQuotaCriticalThreshold {
			return true
		}
	}
	if sawCore {
		return false
	}
	for _, q := range a.Subscription.Quotas {
		if q.RemainingFraction > config.DefaultQuotaCriticalThreshold {
			return true
		}
	}
	return false
}

// clearExpiredTransientsLocked drops accounts whose limited/error window has
// elapsed back to unknown, making them eligible again. Callers must hold
// p.mu.
func (p *Pool) clearExpiredTransientsLocked(nowMs int64) {
	for _, a := range p.accounts {
		if (a.Status == StatusLimited || a.Status == StatusError) &&
			a.StatusUntilMs > 0 && nowMs >= a.StatusUntilMs {
			a.Status = StatusUnknown
			a.StatusUntilMs = 0
			a.LimitedModel = ""
		}
	}
}
