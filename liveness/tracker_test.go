package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTouchDoesNotCreateEntries(t *testing.T) {
	assert := assert.New(t)
	tracker := NewTracker()
	assert.False(tracker.Touch("10.0.0.1:5000"))
	assert.Empty(tracker.Snapshot())
}

func TestAddThenTouch(t *testing.T) {
	assert := assert.New(t)
	tracker := NewTracker()
	tracker.Add("10.0.0.1:5000")
	assert.True(tracker.Touch("10.0.0.1:5000"))
	assert.Equal([]string{"10.0.0.1:5000"}, tracker.Snapshot())
}

func TestSweepExpiresOnlyStaleEntries(t *testing.T) {
	assert := assert.New(t)
	tracker := NewTracker()
	tracker.Add("10.0.0.1:5000")
	tracker.Add("10.0.0.2:5000")

	// Nothing has been stale for an hour yet.
	assert.Empty(tracker.Sweep(time.Now(), time.Hour))

	expired := tracker.Sweep(time.Now().Add(time.Hour), time.Minute)
	assert.Len(expired, 2)
	assert.Empty(tracker.Snapshot())
}

func TestSweptEntryNeedsAddToComeBack(t *testing.T) {
	assert := assert.New(t)
	tracker := NewTracker()
	tracker.Add("10.0.0.1:5000")
	tracker.Sweep(time.Now().Add(time.Hour), time.Minute)

	assert.False(tracker.Touch("10.0.0.1:5000"))
	tracker.Add("10.0.0.1:5000")
	assert.True(tracker.Touch("10.0.0.1:5000"))
}

func TestRemove(t *testing.T) {
	assert := assert.New(t)
	tracker := NewTracker()
	tracker.Add("10.0.0.1:5000")
	tracker.Remove("10.0.0.1:5000")
	tracker.Remove("10.0.0.1:5000")
	assert.Empty(tracker.Snapshot())
}

func TestRestoreReplacesWholesale(t *testing.T) {
	assert := assert.New(t)
	tracker := NewTracker()
	tracker.Add("10.0.0.9:5000")

	tracker.Restore([]string{"10.0.0.1:5000", "10.0.0.2:5000"})

	assert.ElementsMatch([]string{"10.0.0.1:5000", "10.0.0.2:5000"}, tracker.Snapshot())
	assert.False(tracker.Touch("10.0.0.9:5000"))
}

func TestClear(t *testing.T) {
	assert := assert.New(t)
	tracker := NewTracker()
	tracker.Add("10.0.0.1:5000")
	tracker.Clear()
	assert.Empty(tracker.Snapshot())
}
