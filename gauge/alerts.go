package gauge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// AlertState is the lifecycle state of an alert rule.
type AlertState string

const (
	AlertStateOK       AlertState = "ok"
	AlertStatePending  AlertState = "pending"
	AlertStateFiring   AlertState = "firing"
	AlertStateResolved AlertState = "resolved"
)

// AlertRecord captures an alert event.
type AlertRecord struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Metric     string     `json:"metric"`
	Stat       string     `json:"stat"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Operator   string     `json:"operator"`
	Severity   string     `json:"severity"`
	State      AlertState `json:"state"`
	Message    string     `json:"message"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// RuleStatus is the current state of one rule, as served by the API.
type RuleStatus struct {
	AlertRule
	State        AlertState `json:"state"`
	LastValue    *float64   `json:"last_value,omitempty"`
	PendingSince *time.Time `json:"pending_since,omitempty"`
	LastFired    *time.Time `json:"last_fired,omitempty"`
}

var alertOperators = map[string]func(v, t float64) bool{
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
	"==": func(v, t float64) bool { return v == t },
	"!=": func(v, t float64) bool { return v != t },
}

var alertStats = map[string]func(StatsResult) float64{
	"count":   func(r StatsResult) float64 { return float64(r.Count) },
	"sum":     func(r StatsResult) float64 { return r.Sum },
	"min":     func(r StatsResult) float64 { return r.Min },
	"max":     func(r StatsResult) float64 { return r.Max },
	"mean":    func(r StatsResult) float64 { return r.Mean },
	"median":  func(r StatsResult) float64 { return r.Median },
	"std_dev": func(r StatsResult) float64 { return r.StdDev },
	"p95":     func(r StatsResult) float64 { return r.P95 },
	"p99":     func(r StatsResult) float64 { return r.P99 },
	"latest":  func(r StatsResult) float64 { return r.LatestValue },
}

func (r AlertRule) validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("alert rule on %q has no name", r.Metric)
	case r.Metric == "":
		return fmt.Errorf("alert rule %q has no metric", r.Name)
	case alertOperators[r.Operator] == nil:
		return fmt.Errorf("alert rule %q: unknown operator %q", r.Name, r.Operator)
	case alertStats[r.Stat] == nil:
		return fmt.Errorf("alert rule %q: unknown stat %q", r.Name, r.Stat)
	case r.For < 0 || r.Window < 0:
		return fmt.Errorf("alert rule %q: durations must not be negative", r.Name)
	}
	return nil
}

type ruleState struct {
	rule         AlertRule
	state        AlertState
	lastValue    float64
	evaluated    bool
	pendingSince time.Time
	lastFired    time.Time
	alertID      string
}

// AlertEngine evaluates alert rules against store stats and keeps a
// bounded history of fired and resolved alerts.
type AlertEngine struct {
	engine *Engine
	client *http.Client
	now    func() time.Time

	mu      sync.RWMutex
	states  map[string]*ruleState
	history *ringBuffer[AlertRecord]
}

func newAlertEngine(e *Engine) *AlertEngine {
	ae := &AlertEngine{
		engine:  e,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     e.store.now,
		states:  make(map[string]*ruleState, len(e.config.Alerts.Rules)),
		history: newRingBuffer[AlertRecord](e.config.Alerts.History),
	}
	for _, r := range e.config.Alerts.Rules {
		ae.states[r.Name] = &ruleState{rule: r, state: AlertStateOK}
	}
	return ae
}

// start runs evaluations in the background until the engine shuts down.
func (ae *AlertEngine) start() {
	ae.engine.startBackground("alerts", func(ctx context.Context) {
		every(ctx, ae.engine.config.Alerts.Interval, ae.evaluate)
	})
}

// evaluate runs every rule once.
func (ae *AlertEngine) evaluate() {
	now := ae.now()
	var emitted []AlertRecord

	ae.mu.Lock()
	for _, rs := range ae.states {
		res := ae.engine.store.Stats(rs.rule.Metric, rs.rule.Window)
		if !res.OK() {
			continue
		}
		value := alertStats[rs.rule.Stat](res)
		rs.lastValue, rs.evaluated = value, true
		met := alertOperators[rs.rule.Operator](value, rs.rule.Threshold)

		switch rs.state {
		case AlertStateOK:
			if !met {
				continue
			}
			rs.state = AlertStatePending
			rs.pendingSince = now
			if rs.rule.For > 0 {
				continue
			}
			fallthrough

		case AlertStatePending:
			if !met {
				rs.state = AlertStateOK
				rs.pendingSince = time.Time{}
			} else if now.Sub(rs.pendingSince) >= rs.rule.For {
				rs.state = AlertStateFiring
				if rec, ok := ae.fireLocked(rs, value, now); ok {
					emitted = append(emitted, rec)
				}
			}

		case AlertStateFiring:
			if !met {
				if rec, ok := ae.resolveLocked(rs, now); ok {
					emitted = append(emitted, rec)
				}
				rs.state = AlertStateOK
				rs.pendingSince = time.Time{}
			}
		}
	}
	ae.mu.Unlock()

	for _, rec := range emitted {
		ae.engine.wsHub.Broadcast(WSTypeAlert, rec)
		ae.notify(rec)
		if ae.engine.config.DevMode {
			ae.engine.logger.Printf("alert %s: %s", rec.State, rec.Message)
		}
	}
}

// fireLocked records a firing alert unless the rule is still cooling down.
func (ae *AlertEngine) fireLocked(rs *ruleState, value float64, now time.Time) (AlertRecord, bool) {
	cooldown := ae.engine.config.Alerts.Cooldown
	if cooldown > 0 && !rs.lastFired.IsZero() && now.Sub(rs.lastFired) < cooldown {
		return AlertRecord{}, false
	}

	rs.alertID = newAlertID()
	rs.lastFired = now
	rec := AlertRecord{
		ID:        rs.alertID,
		RuleName:  rs.rule.Name,
		Metric:    rs.rule.Metric,
		Stat:      rs.rule.Stat,
		Value:     value,
		Threshold: rs.rule.Threshold,
		Operator:  rs.rule.Operator,
		Severity:  rs.rule.Severity,
		State:     AlertStateFiring,
		Message:   formatAlertMessage(rs.rule, value),
		FiredAt:   now,
	}
	ae.history.push(rec)
	return rec, true
}

// resolveLocked records the resolution of the alert that last fired. A rule
// that went firing during its cooldown has nothing to resolve.
func (ae *AlertEngine) resolveLocked(rs *ruleState, now time.Time) (AlertRecord, bool) {
	if rs.alertID == "" {
		return AlertRecord{}, false
	}
	rec := AlertRecord{
		ID:         rs.alertID,
		RuleName:   rs.rule.Name,
		Metric:     rs.rule.Metric,
		Stat:       rs.rule.Stat,
		Value:      rs.lastValue,
		Threshold:  rs.rule.Threshold,
		Operator:   rs.rule.Operator,
		Severity:   rs.rule.Severity,
		State:      AlertStateResolved,
		Message:    fmt.Sprintf("[Resolved] %s has returned to normal", rs.rule.Name),
		FiredAt:    rs.lastFired,
		ResolvedAt: &now,
	}
	rs.alertID = ""
	ae.history.push(rec)
	return rec, true
}

func formatAlertMessage(rule AlertRule, value float64) string {
	return fmt.Sprintf("%s: %s(%s) %s %g (current: %g)",
		rule.Name, rule.Stat, rule.Metric, rule.Operator, rule.Threshold, value)
}

func newAlertID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Rules returns the state of every rule, sorted by name.
func (ae *AlertEngine) Rules() []RuleStatus {
	ae.mu.RLock()
	defer ae.mu.RUnlock()

	out := make([]RuleStatus, 0, len(ae.states))
	for _, rs := range ae.states {
		st := RuleStatus{AlertRule: rs.rule, State: rs.state}
		if rs.evaluated {
			v := rs.lastValue
			st.LastValue = &v
		}
		if !rs.pendingSince.IsZero() {
			t := rs.pendingSince
			st.PendingSince = &t
		}
		if !rs.lastFired.IsZero() {
			t := rs.lastFired
			st.LastFired = &t
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns alert records, newest first.
func (ae *AlertEngine) History() []AlertRecord {
	ae.mu.RLock()
	items := ae.history.items()
	ae.mu.RUnlock()

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}

// --- Notifications ---

func (ae *AlertEngine) notify(rec AlertRecord) {
	for _, hook := range ae.engine.config.Alerts.Webhooks {
		if hook.URL == "" {
			continue
		}
		go ae.sendWebhook(ae.engine.ctx, hook, rec)
	}
}

// sendWebhook POSTs the alert with an optional HMAC signature, retrying
// up to three times with exponential backoff.
func (ae *AlertEngine) sendWebhook(ctx context.Context, hook WebhookConfig, rec AlertRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	var sig string
	if hook.Secret != "" {
		mac := hmac.New(sha256.New, []byte(hook.Secret))
		mac.Write(data)
		sig = hex.EncodeToString(mac.Sum(nil))
	}

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Gauge-Alert/1.0")
		if sig != "" {
			req.Header.Set("X-Gauge-Signature", sig)
		}
		for k, v := range hook.Headers {
			req.Header.Set(k, v)
		}

		resp, err := ae.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return
			}
		}
	}

	if ae.engine.config.DevMode {
		ae.engine.logger.Printf("webhook notification failed after retries: %s", hook.URL)
	}
}
