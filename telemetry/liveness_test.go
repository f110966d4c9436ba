package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLiveness(t *testing.T) {
	t.Parallel()
	const window = 50 * time.Millisecond
	l := NewLiveness(window)
	assert.Equal(t, Idle, l.State())
	assert.Nil(t, l.C())

	l.Refresh() // idle stays idle
	assert.Equal(t, Idle, l.State())
	assert.Nil(t, l.C())

	l.Touch()
	assert.Equal(t, Armed, l.State())
	select {
	case <-l.C():
		assert.True(t, l.Expired())
	case <-time.After(time.Second):
		t.Fatal("countdown did not fire")
	}
	assert.Equal(t, Idle, l.State())
	assert.False(t, l.Expired())
	assert.Nil(t, l.C())
}

func TestLivenessTouchPostpones(t *testing.T) {
	t.Parallel()
	const window = 100 * time.Millisecond
	l := NewLiveness(window)
	l.Touch()
	begin := time.Now()
	for i := 0; i < 4; i++ {
		time.Sleep(window / 2)
		l.Touch()
	}
	<-l.C()
	assert.True(t, time.Since(begin) >= 2*window+window)
	assert.True(t, l.Expired())
}

func TestLivenessCancel(t *testing.T) {
	t.Parallel()
	l := NewLiveness(10 * time.Millisecond)
	assert.False(t, l.Cancel())
	l.Touch()
	time.Sleep(30 * time.Millisecond) // fired, unread
	assert.True(t, l.Cancel())
	assert.Nil(t, l.C())

	// stale tick must not leak into next arm
	l.Touch()
	select {
	case <-l.C():
		t.Fatal("stale tick")
	default:
	}
}
