// Package budget tracks per-agent token usage across rolling day, week,
// and month windows.
package budget

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrExceeded is returned by Check when a hard-stop limit is hit.
var ErrExceeded = errors.New("token budget exceeded")

// Windows in check order; the first exceeded window is reported.
var Windows = []string{"day", "week", "month"}

// Ledger persists cumulative token counters per (agent, window). Writes are
// serialized so the running total observed per agent is monotonic within a
// window.
type Ledger struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// NewLedger creates the ledger schema if missing.
func NewLedger(db *sql.DB) (*Ledger, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS budget_usage (
	agent_id     TEXT NOT NULL,
	window       TEXT NOT NULL,
	window_start TEXT NOT NULL,
	tokens       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (agent_id, window)
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create budget schema: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// WithClock overrides the ledger's time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// windowStart returns the current rolling start for a window.
func windowStart(window string, now time.Time) time.Time {
	now = now.UTC()
	switch window {
	case "day":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case "week":
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		// Weeks start Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case "month":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return now
}

// Usage returns the agent's current counter for a window, resetting it if
// the window has rolled over.
func (l *Ledger) Usage(agentID, window string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usageLocked(agentID, window)
}

func (l *Ledger) usageLocked(agentID, window string) (int64, error) {
	start := windowStart(window, l.now()).Format(time.RFC3339)

	var storedStart string
	var tokens int64
	err := l.db.QueryRow(
		`SELECT window_start, tokens FROM budget_usage WHERE agent_id = ? AND window = ?`,
		agentID, window).Scan(&storedStart, &tokens)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read budget: %w", err)
	}

	if storedStart != start {
		_, err := l.db.Exec(
			`UPDATE budget_usage SET window_start = ?, tokens = 0 WHERE agent_id = ? AND window = ?`,
			start, agentID, window)
		if err != nil {
			return 0, fmt.Errorf("roll budget window: %w", err)
		}
		return 0, nil
	}
	return tokens, nil
}

// Account adds tokens to every window counter for the agent.
func (l *Ledger) Account(agentID string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, window := range Windows {
		// Roll the window first so the increment lands in the current slice.
		if _, err := l.usageLocked(agentID, window); err != nil {
			return err
		}
		start := windowStart(window, l.now()).Format(time.RFC3339)
		_, err := l.db.Exec(`
INSERT INTO budget_usage (agent_id, window, window_start, tokens)
VALUES (?, ?, ?, ?)
ON CONFLICT (agent_id, window) DO UPDATE SET tokens = tokens + excluded.tokens`,
			agentID, window, start, tokens)
		if err != nil {
			return fmt.Errorf("account tokens: %w", err)
		}
	}
	return nil
}

// Limits is the per-window cap set; 0 means unlimited.
type Limits struct {
	Day   int64
	Week  int64
	Month int64
}

func (lim Limits) limit(window string) int64 {
	switch window {
	case "day":
		return lim.Day
	case "week":
		return lim.Week
	case "month":
		return lim.Month
	}
	return 0
}

// Exceeded describes a window over its limit.
type Exceeded struct {
	Window string
	Used   int64
	Limit  int64
}

// Check returns the first window whose non-zero limit is met or exceeded,
// or nil when the agent is within budget.
func (l *Ledger) Check(agentID string, lim Limits) (*Exceeded, error) {
	for _, window := range Windows {
		limit := lim.limit(window)
		if limit <= 0 {
			continue
		}
		used, err := l.Usage(agentID, window)
		if err != nil {
			return nil, err
		}
		if used >= limit {
			return &Exceeded{Window: window, Used: used, Limit: limit}, nil
		}
	}
	return nil, nil
}
