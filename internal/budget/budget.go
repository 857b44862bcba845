// Package budget tracks estimated spend against a limit over an accounting
// window.
package budget

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Window selects how spend ages out.
type Window string

const (
	// Daily resets spend at UTC midnight.
	Daily Window = "daily"
	// Rolling forgets spend older than the configured duration.
	Rolling Window = "rolling"
)

// ParseWindow maps a configuration string to a Window; empty means Daily.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return Daily, nil
	case Daily, Rolling:
		return w, nil
	default:
		return "", fmt.Errorf("unknown budget window %q", s)
	}
}

// Config for a Ledger. Limit <= 0 disables the ceiling.
type Config struct {
	Limit         float64
	Window        Window
	RollingWindow time.Duration
	Now           func() time.Time
}

// ErrExhausted is returned by Reserve when the cost does not fit in what is
// left of the window.
var ErrExhausted = errors.New("budget exhausted")

// Status is a point-in-time view of the ledger. Held is reserved by
// requests still in flight.
type Status struct {
	Limit     float64
	Spent     float64
	Held      float64
	Remaining float64
	Window    Window
}

type spend struct {
	at   time.Time
	cost float64
}

// Ledger is safe for concurrent use. Reserve checks and holds in one step;
// Record charges without a check.
type Ledger struct {
	cfg Config

	mu       sync.Mutex
	dayStart time.Time
	spent    float64
	held     float64
	recent   []spend
}

// New validates cfg and returns an empty ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Window == "" {
		cfg.Window = Daily
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch cfg.Window {
	case Daily:
	case Rolling:
		if cfg.RollingWindow <= 0 {
			return nil, fmt.Errorf("rolling budget window needs a positive duration")
		}
	default:
		return nil, fmt.Errorf("unknown budget window %q", cfg.Window)
	}
	if cfg.Limit < 0 || math.IsNaN(cfg.Limit) {
		return nil, fmt.Errorf("invalid budget limit %v", cfg.Limit)
	}
	return &Ledger{cfg: cfg}, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rollLocked ages out spend that left the window.
func (l *Ledger) rollLocked(now time.Time) {
	switch l.cfg.Window {
	case Daily:
		if day := startOfDay(now); !day.Equal(l.dayStart) {
			l.dayStart = day
			l.spent = 0
		}
	case Rolling:
		cutoff := now.Add(-l.cfg.RollingWindow)
		i := 0
		for i < len(l.recent) && !l.recent[i].at.After(cutoff) {
			l.spent -= l.recent[i].cost
			i++
		}
		if i > 0 {
			l.recent = append(l.recent[:0], l.recent[i:]...)
		}
		if len(l.recent) == 0 {
			l.spent = 0
		}
	}
}

func (l *Ledger) remainingLocked() float64 {
	if l.cfg.Limit <= 0 {
		return math.Inf(1)
	}
	return math.Max(0, l.cfg.Limit-l.spent-l.held)
}

// Remaining is the spend left in the current window after outstanding
// holds, +Inf when unlimited.
func (l *Ledger) Remaining() float64 {
	if l.cfg.Limit <= 0 {
		return math.Inf(1)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(l.cfg.Now())
	return l.remainingLocked()
}

func validCost(cost float64) bool {
	return cost > 0 && !math.IsNaN(cost) && !math.IsInf(cost, 0)
}

// Record adds cost to the current window.
func (l *Ledger) Record(cost float64) {
	if !validCost(cost) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(l.cfg.Now(), cost)
}

func (l *Ledger) recordLocked(now time.Time, cost float64) {
	l.rollLocked(now)
	l.spent += cost
	if l.cfg.Window == Rolling {
		l.recent = append(l.recent, spend{at: now, cost: cost})
	}
}

// Hold is spend reserved against the limit until it is settled.
type Hold struct {
	l    *Ledger
	cost float64
	once sync.Once
}

// Reserve holds cost against the window if it fits, so concurrent callers
// cannot both spend the same remainder. The hold must be settled or
// released.
func (l *Ledger) Reserve(cost float64) (*Hold, error) {
	if !validCost(cost) {
		cost = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(l.cfg.Now())
	if left := l.remainingLocked(); cost > left {
		return nil, fmt.Errorf("%w: need %.4g, %.4g left", ErrExhausted, cost, left)
	}
	l.held += cost
	return &Hold{l: l, cost: cost}, nil
}

// Settle drops the hold and charges actual. Only the first Settle or
// Release has an effect.
func (h *Hold) Settle(actual float64) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		l := h.l
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = math.Max(0, l.held-h.cost)
		if validCost(actual) {
			l.recordLocked(l.cfg.Now(), actual)
		}
	})
}

// Release drops the hold without charging anything.
func (h *Hold) Release() { h.Settle(0) }

// Status reports limit, spend and remaining for the current window.
func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(l.cfg.Now())
	return Status{
		Limit:     l.cfg.Limit,
		Spent:     l.spent,
		Held:      l.held,
		Remaining: l.remainingLocked(),
		Window:    l.cfg.Window,
	}
}
