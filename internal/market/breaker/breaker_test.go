package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_OpensAfterThreshold(t *testing.T) {
	r := NewRegistry(3, time.Minute)

	assert.False(t, r.IsOpen("fred"))

	r.RecordFailure("fred")
	assert.False(t, r.IsOpen("fred"))

	r.RecordFailure("fred")
	assert.False(t, r.IsOpen("fred"))

	r.RecordFailure("fred")
	assert.True(t, r.IsOpen("fred"), "breaker should open after 3 consecutive failures")
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry(3, time.Minute)

	for i := 0; i < 3; i++ {
		r.RecordFailure("fx")
	}
	assert.True(t, r.IsOpen("fx"))

	r.Reset("fx")
	assert.False(t, r.IsOpen("fx"))

	state := r.States()["fx"]
	assert.Equal(t, 0, state.FailureCount)
}

func TestRegistry_SuccessResetsCounter(t *testing.T) {
	r := NewRegistry(3, time.Minute)

	r.RecordFailure("curve")
	r.RecordFailure("curve")
	r.RecordSuccess("curve")
	r.RecordFailure("curve")
	r.RecordFailure("curve")

	assert.False(t, r.IsOpen("curve"), "non-consecutive failures must not trip the breaker")

	r.RecordFailure("curve")
	assert.True(t, r.IsOpen("curve"))
}

func TestRegistry_CooldownClosesBreaker(t *testing.T) {
	r := NewRegistry(2, 50*time.Millisecond)

	r.RecordFailure("fred")
	r.RecordFailure("fred")
	assert.True(t, r.IsOpen("fred"))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, r.IsOpen("fred"), "breaker should close after cooldown")

	state := r.States()["fred"]
	assert.Equal(t, 0, state.FailureCount, "cooldown expiry is a hard reset")
}

func TestRegistry_StatesReflectCooldown(t *testing.T) {
	r := NewRegistry(2, 50*time.Millisecond)

	r.RecordFailure("fred")
	r.RecordFailure("fred")
	assert.True(t, r.States()["fred"].Open)

	time.Sleep(80 * time.Millisecond)

	// No IsOpen call in between: the snapshot alone must show it closed
	state := r.States()["fred"]
	assert.False(t, state.Open, "monitoring must not report a cooled-down breaker as open")
	assert.Equal(t, 0, state.FailureCount)
}

func TestRegistry_IndependentSources(t *testing.T) {
	r := NewRegistry(3, time.Minute)

	for i := 0; i < 3; i++ {
		r.RecordFailure("fred")
	}
	assert.True(t, r.IsOpen("fred"))
	assert.False(t, r.IsOpen("fx"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(3, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordFailure("fred")
			r.IsOpen("fred")
			r.RecordSuccess("fx")
			r.States()
		}()
	}
	wg.Wait()

	// Counters must not be lost or corrupted under concurrency
	states := r.States()
	assert.Contains(t, states, "fred")
}

func TestRegistry_TripCallback(t *testing.T) {
	r := NewRegistry(2, time.Minute)

	tripped := make(chan string, 1)
	r.SetTripCallback(func(source string) {
		tripped <- source
	})

	r.RecordFailure("fx")
	r.RecordFailure("fx")

	select {
	case source := <-tripped:
		assert.Equal(t, "fx", source)
	case <-time.After(time.Second):
		t.Fatal("trip callback was not invoked")
	}
}
