package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker() (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New("paymaster", &Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: 10 * time.Second})
	cb.SetClock(clk.now)
	return cb, clk
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker()
	boom := errors.New("sponsor refused")

	assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	cb, clk := newTestBreaker()
	cb.Failure()
	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())

	clk.advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Allow())
	// 半开只放行一个
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	cb.Success()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker()
	cb.Failure()
	cb.Failure()
	clk.advance(11 * time.Second)

	assert.NoError(t, cb.Allow())
	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	cb, _ := newTestBreaker()
	var transitions []string
	cb.SetOnStateChange(func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	})

	cb.Failure()
	cb.Failure()
	cb.Reset()

	assert.Equal(t, []string{"paymaster:closed->open", "paymaster:open->closed"}, transitions)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker()
	cb.Failure()
	cb.Success()
	cb.Failure()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().Failures)
}
