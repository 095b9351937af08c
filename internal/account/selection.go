package account

import (
	"sort"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	proxyerrors "github.com/antigravity-core/antigravity-proxy-go/internal/errors"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
)

// Select implements the single deterministic selection policy. After
// clearing expired limited/error windows, candidates are enabled accounts
// that have not been terminally invalidated. Among those:
//
//  1. status ok with remaining quota for modelID (or for any core model when
//     the specific one is unobserved) above the critical threshold, least
//     recently used first
//  2. status unknown, least recently used first
//  3. status limited, least recently used first
//
// Accounts whose status is error are skipped until their transient window
// clears. If nothing remains, *errors.NoAccountAvailable is returned. On
// success the chosen account's lastUsed is bumped before the snapshot is
// returned.
func (p *Pool) Select(modelID string) (*Account, error) {
	nowMs := utils.NowMs()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearExpiredTransientsLocked(nowMs)

	candidates := make([]*Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		if a.Enabled && !a.IsInvalid {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil, proxyerrors.NewNoAccountAvailable("no accounts available", false)
	}

	okWithQuota := filter(candidates, func(a *Account) bool {
		return a.Status == StatusOK && quotaOK(a, modelID)
	})
	if chosen := lruPick(okWithQuota); chosen != nil {
		return p.markSelectedLocked(chosen, nowMs), nil
	}

	unknown := filter(candidates, func(a *Account) bool { return a.Status == StatusUnknown })
	if chosen := lruPick(unknown); chosen != nil {
		return p.markSelectedLocked(chosen, nowMs), nil
	}

	limited := filter(candidates, func(a *Account) bool { return a.Status == StatusLimited })
	if chosen := lruPick(limited); chosen != nil {
		return p.markSelectedLocked(chosen, nowMs), nil
	}

	// Quota-exhausted ok accounts rank behind unknown/limited but ahead of
	// failing outright.
	okAny := filter(candidates, func(a *Account) bool { return a.Status == StatusOK })
	if chosen := lruPick(okAny); chosen != nil {
		return p.markSelectedLocked(chosen, nowMs), nil
	}

	return nil, proxyerrors.NewNoAccountAvailable("all accounts rate-limited or erroring", true)
}

func (p *Pool) markSelectedLocked(a *Account, nowMs int64) *Account {
	a.LastUsedMs = nowMs
	return a.clone()
}

// quotaOK reports whether a's remaining quota clears the critical threshold
// for modelID. An exact per-model observation wins; otherwise any core-model
// observation counts; with no observations at all the quota is unknown and
// treated as available.
func quotaOK(a *Account, modelID string) bool {
	if a.Subscription == nil || len(a.Subscription.Quotas) == 0 {
		return true
	}
	if q, ok := a.Subscription.Quotas[modelID]; ok {
		return q.RemainingFraction > config.DefaultQuotaCriticalThreshold
	}
	sawCore := false
	for id, q := range a.Subscription.Quotas {
		if !config.IsCoreModel(id) {
			continue
		}
		sawCore = true
		if q.RemainingFraction > config.DefaultQuotaCriticalThreshold {
			return true
		}
	}
	return !sawCore
}

// lruPick returns the least-recently-used account, or nil for an empty set.
func lruPick(accounts []*Account) *Account {
	if len(accounts) == 0 {
		return nil
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].LastUsedMs < accounts[j].LastUsedMs
	})
	return accounts[0]
}

func filter(accounts []*Account, pred func(*Account) bool) []*Account {
	out := make([]*Account, 0, len(accounts))
	for _, a := range accounts {
		if pred(a) {
			out = append(out, a)
		}
	}
	return out
}
