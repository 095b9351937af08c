// Package telemetry implements the Telemetry Heartbeat Loop: a background
// scheduler that, for each recently-active account, emits a randomized
// subset of analytics calls that imitate real IDE usage. This keeps
// otherwise-idle accounts looking used between actual proxied requests.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-core/antigravity-proxy-go/internal/account"
	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	"github.com/antigravity-core/antigravity-proxy-go/internal/fetch"
	"github.com/antigravity-core/antigravity-proxy-go/internal/fingerprint"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
)

// endpointProbability pairs a CodeAssist analytics path with the
// probability the loop decides to call it on any given account iteration.
type endpointSpec struct {
	path        string
	probability float64
	buildBody   func(l *Loop, projectID, sessionID string, nowMs int64) map[string]interface{}
}

// Loop is the Telemetry Heartbeat Loop. One Loop runs at a time.
type Loop struct {
	pool    *account.Pool
	tokens  *account.TokenManager
	fetcher *fetch.Client

	mu           sync.Mutex
	lastActivity time.Time
	sessionIDs   map[string]string // email -> stable session id

	endpoints []endpointSpec

	// baseURL is the telemetry endpoint base; the primary CodeAssist
	// endpoint by default, overridden in tests.
	baseURL string

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Loop. Call Initialize to start it.
func New(pool *account.Pool, tokens *account.TokenManager, fetcher *fetch.Client) *Loop {
	l := &Loop{
		pool:       pool,
		tokens:     tokens,
		fetcher:    fetcher,
		sessionIDs: make(map[string]string),
		baseURL:    config.EndpointFallbacks[0], // telemetry intentionally never falls back; see DESIGN.md
	}
	l.endpoints = []endpointSpec{
		{path: config.PathFetchUserInfo, probability: 0.9, buildBody: buildFetchUserInfoBody},
		{path: config.PathListExperiments, probability: 0.5, buildBody: buildListExperimentsBody},
		{path: config.PathRecordTrajectoryAnalytics, probability: 0.3, buildBody: buildTrajectoryAnalyticsBody},
		{path: config.PathRecordCodeAssistMetrics, probability: 0.2, buildBody: buildCodeAssistMetricsBody},
	}
	return l
}

// Initialize starts the loop's background goroutine after an initial
// 5-second delay. Calling Initialize twice is a no-op on the second call.
func (l *Loop) Initialize(ctx context.Context) {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.mu.Unlock()

	go l.run(loopCtx)
}

// Shutdown stops the loop and waits for the current iteration to finish.
func (l *Loop) Shutdown() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// NotifyActivity records that a real request just happened, which the
// liveness-gap heuristic uses to bias interaction events toward "typing".
func (l *Loop) NotifyActivity() {
	l.mu.Lock()
	l.lastActivity = time.Now()
	l.mu.Unlock()
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	if err := utils.Sleep(ctx, config.TelemetryInitialDelayMs); err != nil {
		return
	}

	for {
		intervalMs := nextIntervalMs()

		ok := func() (ok bool) {
			defer func() {
				if r := recover(); r != nil {
					utils.Debug("[Telemetry] iteration panicked: %v", r)
					ok = false
				}
			}()
			l.runIteration(ctx)
			return true
		}()
		if !ok {
			intervalMs = config.TelemetryErrorCooldownMs
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(intervalMs) * time.Millisecond):
		}
	}
}

// nextIntervalMs draws the sleep before the next iteration: the base
// interval plus or minus the full jitter (GenerateJitter spreads over half
// its argument in each direction), floored at the minimum.
func nextIntervalMs() int64 {
	intervalMs := int64(config.TelemetryIntervalBaseMs) + utils.GenerateJitter(2*config.TelemetryIntervalJitterMs)
	if intervalMs < config.TelemetryMinIntervalMs {
		intervalMs = config.TelemetryMinIntervalMs
	}
	return intervalMs
}

func (l *Loop) runIteration(ctx context.Context) {
	l.mu.Lock()
	lastActivity := l.lastActivity
	l.mu.Unlock()

	if lastActivity.IsZero() || time.Since(lastActivity) >= config.TelemetryActiveWindowMs*time.Millisecond {
		return
	}

	accounts := l.activeAccounts()
	for i, acc := range accounts {
		if ctx.Err() != nil {
			return
		}
		l.emitForAccount(ctx, acc)

		if i < len(accounts)-1 {
			gap := config.TelemetryInterAccountMinMs + utils.GenerateJitterPositive(config.TelemetryInterAccountMaxMs-config.TelemetryInterAccountMinMs)
			if utils.Sleep(ctx, gap) != nil {
				return
			}
		}
	}
}

// activeAccounts filters to enabled, authorized accounts used within the
// active window.
func (l *Loop) activeAccounts() []*account.Account {
	nowMs := utils.NowMs()
	var out []*account.Account
	for _, acc := range l.pool.All() {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		if acc.LastUsedMs == 0 {
			continue
		}
		if nowMs-acc.LastUsedMs >= config.TelemetryActiveWindowMs {
			continue
		}
		out = append(out, acc)
	}
	return out
}

func (l *Loop) emitForAccount(ctx context.Context, acc *account.Account) {
	projectID := acc.EffectiveProjectID()
	if projectID == "" {
		utils.Debug("[Telemetry] skipping %s: no project id", utils.MaskEmail(acc.Email))
		return
	}

	sessionID := l.sessionIDFor(acc.Email)

	token, err := l.tokens.AccessToken(ctx, acc.Email)
	if err != nil {
		utils.Debug("[Telemetry] token fetch failed for %s: %v", utils.MaskEmail(acc.Email), err)
		return
	}

	headers := fingerprint.BuildHeaders(acc.Fingerprint)
	headers["Authorization"] = "Bearer " + token
	headers["Content-Type"] = "application/json"

	nowMs := utils.NowMs()

	for i, ep := range l.endpoints {
		if ctx.Err() != nil {
			return
		}
		if rand.Float64() >= ep.probability {
			continue
		}

		body := ep.buildBody(l, projectID, sessionID, nowMs)
		payload, err := json.Marshal(body)
		if err != nil {
			utils.Debug("[Telemetry] marshal failed for %s %s: %v", utils.MaskEmail(acc.Email), ep.path, err)
			continue
		}

		url := l.baseURL + ep.path
		_, err = l.fetcher.Do(ctx, url, fetch.Options{
			Method:  "POST",
			Headers: headers,
			Body:    payload,
		})
		if err != nil {
			utils.Debug("[Telemetry] call failed for %s %s: %v", utils.MaskEmail(acc.Email), ep.path, err)
		}

		if i < len(l.endpoints)-1 {
			gap := config.TelemetryInterEndpointMinMs + utils.GenerateJitterPositive(config.TelemetryInterEndpointMaxMs-config.TelemetryInterEndpointMinMs)
			if utils.Sleep(ctx, gap) != nil {
				return
			}
		}
	}
}

func (l *Loop) sessionIDFor(email string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.sessionIDs[email]; ok {
		return id
	}
	id := uuid.New().String()
	l.sessionIDs[email] = id
	return id
}

func buildFetchUserInfoBody(l *Loop, projectID, sessionID string, nowMs int64) map[string]interface{} {
	return map[string]interface{}{"project": projectID}
}

func buildListExperimentsBody(l *Loop, projectID, sessionID string, nowMs int64) map[string]interface{} {
	return map[string]interface{}{
		"project": projectID,
		"parent":  fmt.Sprintf("projects/%s", projectID),
	}
}

func buildTrajectoryAnalyticsBody(l *Loop, projectID, sessionID string, nowMs int64) map[string]interface{} {
	l.mu.Lock()
	recentActivity := !l.lastActivity.IsZero() && time.Since(l.lastActivity) < config.TelemetryLivenessGapMs*time.Millisecond
	l.mu.Unlock()

	return map[string]interface{}{
		"project":    projectID,
		"session_id": sessionID,
		"trajectory_metrics": map[string]interface{}{
			"interaction_events": buildInteractionEvents(nowMs, recentActivity),
			"latency_ms":         100 + rand.Intn(600),
			"model_id":           config.TelemetryHeartbeatModelID,
		},
	}
}

func buildCodeAssistMetricsBody(l *Loop, projectID, sessionID string, nowMs int64) map[string]interface{} {
	shown := 1 + rand.Intn(3)
	accepted := 0
	if rand.Float64() < 0.7 {
		accepted = 1
	}
	acceptRate := 0.0
	if shown > 0 {
		acceptRate = float64(accepted) / float64(shown)
	}
	latencyMs := 100 + rand.Intn(600)
	interactionType := "DISMISS"
	if accepted == 1 {
		interactionType = "ACCEPT"
	}

	return map[string]interface{}{
		"project":    projectID,
		"session_id": sessionID,
		"code_assist_metrics": map[string]interface{}{
			"completions_shown":    shown,
			"completions_accepted": accepted,
			"accept_rate":          acceptRate,
			"latency_ms":           latencyMs,
			"interaction_type":     interactionType,
		},
	}
}

// buildInteractionEvents implements the liveness-gap heuristic: recent real
// activity biases toward a burst of TYPING events, otherwise a light mix of
// SCROLL/MOUSE_OVER with an occasional focus change.
func buildInteractionEvents(nowMs int64, recentActivity bool) []map[string]interface{} {
	var events []map[string]interface{}

	if recentActivity {
		n := 3 + rand.Intn(6) // 3..8
		for i := 0; i < n; i++ {
			events = append(events, map[string]interface{}{
				"event_type": "TYPING",
				"surface":    "EDITOR_PANE",
				"event_time": nowMs - rand.Int63n(5000),
			})
		}
		return events
	}

	n := 1 + rand.Intn(3) // 1..3
	for i := 0; i < n; i++ {
		eventType := "MOUSE_OVER"
		if rand.Float64() < 0.6 {
			eventType = "SCROLL"
		}
		events = append(events, map[string]interface{}{
			"event_type": eventType,
			"surface":    "EDITOR_PANE",
			"event_time": nowMs - rand.Int63n(10000),
		})
	}
	if rand.Float64() < 0.1 {
		focusType := "WINDOW_FOCUS"
		if rand.Float64() < 0.5 {
			focusType = "WINDOW_BLUR"
		}
		events = append(events, map[string]interface{}{
			"event_type": focusType,
			"surface":    "IDE_WINDOW",
			"event_time": nowMs - rand.Int63n(10000),
		})
	}
	return events
}
