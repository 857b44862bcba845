package budget

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDailyWindowResetsAtUTCMidnight(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)}
	l, err := New(Config{Limit: 10, Window: Daily, Now: c.Now})
	require.NoError(t, err)

	l.Record(4)
	assert.InDelta(t, 6, l.Remaining(), 1e-9)
	c.Advance(59 * time.Minute)
	assert.InDelta(t, 6, l.Remaining(), 1e-9)
	c.Advance(2 * time.Minute)
	assert.InDelta(t, 10, l.Remaining(), 1e-9)
	assert.Equal(t, Status{Limit: 10, Spent: 0, Remaining: 10, Window: Daily}, l.Status())
}

func TestRollingWindowForgetsOldSpend(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l, err := New(Config{Limit: 10, Window: Rolling, RollingWindow: time.Hour, Now: c.Now})
	require.NoError(t, err)

	l.Record(3)
	c.Advance(30 * time.Minute)
	l.Record(5)
	assert.InDelta(t, 2, l.Remaining(), 1e-9)

	c.Advance(31 * time.Minute)
	assert.InDelta(t, 5, l.Remaining(), 1e-9)
	c.Advance(30 * time.Minute)
	assert.InDelta(t, 10, l.Remaining(), 1e-9)
}

func TestRemainingNeverNegative(t *testing.T) {
	l, err := New(Config{Limit: 1})
	require.NoError(t, err)
	l.Record(5)
	assert.Zero(t, l.Remaining())
	assert.InDelta(t, 5, l.Status().Spent, 1e-9)
}

func TestUnlimited(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	l.Record(1e9)
	assert.True(t, math.IsInf(l.Remaining(), 1))
	l.Record(-1)
	l.Record(math.NaN())
	assert.InDelta(t, 1e9, l.Status().Spent, 1)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Window: Rolling})
	assert.Error(t, err)
	_, err = New(Config{Window: "weekly"})
	assert.Error(t, err)
	_, err = New(Config{Limit: -1})
	assert.Error(t, err)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("")
	require.NoError(t, err)
	assert.Equal(t, Daily, w)
	w, err = ParseWindow(" Rolling ")
	require.NoError(t, err)
	assert.Equal(t, Rolling, w)
	_, err = ParseWindow("monthly")
	assert.Error(t, err)
}

func TestReserveHoldsUntilSettled(t *testing.T) {
	l, err := New(Config{Limit: 10})
	require.NoError(t, err)

	h, err := l.Reserve(6)
	require.NoError(t, err)
	assert.InDelta(t, 4, l.Remaining(), 1e-9)
	_, err = l.Reserve(5)
	assert.ErrorIs(t, err, ErrExhausted)

	h.Settle(2)
	h.Settle(9) // no effect after the first settle
	st := l.Status()
	assert.InDelta(t, 2, st.Spent, 1e-9)
	assert.Zero(t, st.Held)
	assert.InDelta(t, 8, st.Remaining, 1e-9)

	h2, err := l.Reserve(8)
	require.NoError(t, err)
	h2.Release()
	assert.InDelta(t, 8, l.Remaining(), 1e-9)
}

func TestConcurrentReservationsNeverOvershoot(t *testing.T) {
	l, err := New(Config{Limit: 10})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := l.Reserve(1)
			if err != nil {
				return
			}
			mu.Lock()
			granted++
			mu.Unlock()
			h.Settle(1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, granted)
	assert.InDelta(t, 10, l.Status().Spent, 1e-9)
	assert.Zero(t, l.Remaining())
}

func TestReserveUnlimited(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	h, err := l.Reserve(1e12)
	require.NoError(t, err)
	h.Settle(3)
	assert.InDelta(t, 3, l.Status().Spent, 1e-9)
	var nilHold *Hold
	nilHold.Release()
}
