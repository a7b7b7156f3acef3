// Package budget estimates and caps spend on LLM-backed stages. The
// development stage consults Tracker before each attempt; exceeding either
// cap fails that attempt, and the supervisor does not retry it.
package budget

import (
	"sync"
	"time"

	"github.com/artemis-pipeline/artemis/core"
)

// rate is USD per 1000 tokens, split prompt/completion since most
// providers price them differently.
type rate struct {
	promptPer1K     float64
	completionPer1K float64
}

// defaultRates covers the models Artemis's bundled providers use. A model
// absent from this table falls back to fallbackRate rather than erroring -
// an unrecognized model should not by itself abort a run.
var defaultRates = map[string]rate{
	"claude-3-5-sonnet-20241022": {promptPer1K: 0.003, completionPer1K: 0.015},
	"claude-3-opus-20240229":     {promptPer1K: 0.015, completionPer1K: 0.075},
	"claude-3-haiku-20240307":    {promptPer1K: 0.00025, completionPer1K: 0.00125},
}

var fallbackRate = rate{promptPer1K: 0.003, completionPer1K: 0.015}

// Usage is one recorded spend event, kept for the report's cost breakdown.
type Usage struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CostUSD   float64   `json:"cost_usd"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Tracker accumulates estimated spend against a day and a month window,
// rolling each window over when it's crossed.
type Tracker struct {
	mu    sync.Mutex
	cfg   core.BudgetConfig
	rates map[string]rate

	dayTotal   float64
	dayStart   time.Time
	monthTotal float64
	monthStart time.Time

	history []Usage
}

// NewTracker creates a Tracker enforcing cfg's caps, windows anchored to
// the moment of construction.
func NewTracker(cfg core.BudgetConfig) *Tracker {
	now := time.Now()
	return &Tracker{
		cfg:        cfg,
		rates:      defaultRates,
		dayStart:   startOfDay(now),
		monthStart: startOfMonth(now),
	}
}

// EstimateCost computes the projected USD cost of a call, without
// recording it.
func (t *Tracker) EstimateCost(model string, usage core.TokenUsage) float64 {
	r, ok := t.rates[model]
	if !ok {
		r = fallbackRate
	}
	return float64(usage.PromptTokens)/1000*r.promptPer1K + float64(usage.CompletionTokens)/1000*r.completionPer1K
}

// CheckAndRecord estimates the cost of (provider, model, usage) and, if
// recording it would stay within both the daily and monthly caps, records
// it and returns the cost. If either cap would be exceeded, the call is
// rejected with ErrBudgetExceeded and nothing is recorded.
func (t *Tracker) CheckAndRecord(provider, model string, usage core.TokenUsage) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.rollWindows(now)

	cost := t.EstimateCost(model, usage)

	if t.cfg.DailyCapUSD > 0 && t.dayTotal+cost > t.cfg.DailyCapUSD {
		return 0, &core.FrameworkError{
			Op:      "Tracker.CheckAndRecord",
			Kind:    "budget",
			ID:      provider + "/" + model,
			Message: "daily budget cap would be exceeded",
			Err:     core.ErrBudgetExceeded,
		}
	}
	if t.cfg.MonthlyCapUSD > 0 && t.monthTotal+cost > t.cfg.MonthlyCapUSD {
		return 0, &core.FrameworkError{
			Op:      "Tracker.CheckAndRecord",
			Kind:    "budget",
			ID:      provider + "/" + model,
			Message: "monthly budget cap would be exceeded",
			Err:     core.ErrBudgetExceeded,
		}
	}

	t.dayTotal += cost
	t.monthTotal += cost
	t.history = append(t.history, Usage{Provider: provider, Model: model, CostUSD: cost, RecordedAt: now})

	return cost, nil
}

// DailySpend returns the current day window's accumulated spend.
func (t *Tracker) DailySpend() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollWindows(time.Now())
	return t.dayTotal
}

// MonthlySpend returns the current month window's accumulated spend.
func (t *Tracker) MonthlySpend() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollWindows(time.Now())
	return t.monthTotal
}

// History returns a copy of every recorded usage event.
func (t *Tracker) History() []Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Usage, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) rollWindows(now time.Time) {
	if day := startOfDay(now); day.After(t.dayStart) {
		t.dayStart = day
		t.dayTotal = 0
	}
	if month := startOfMonth(now); month.After(t.monthStart) {
		t.monthStart = month
		t.monthTotal = 0
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
