package puller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPoll    = 30 * time.Second
	testArchive = 300 * time.Second
)

// boundary is a multiple of 300 seconds
var boundary = time.Unix(1700000100, 0)

func TestNextEvent(t *testing.T) {
	testCases := []struct {
		name          string
		now           time.Time
		offset        time.Duration
		expectedEvent Event
		expectedWait  time.Duration
	}{
		{name: "Upcoming wake on archive boundary", now: boundary.Add(-30 * time.Second), expectedEvent: EventArchive, expectedWait: 30 * time.Second},
		{name: "Just before archive boundary", now: boundary.Add(-500 * time.Millisecond), expectedEvent: EventArchive, expectedWait: 500 * time.Millisecond},
		{name: "Upcoming wake on poll boundary", now: boundary, expectedEvent: EventPoll, expectedWait: 30 * time.Second},
		{name: "Mid poll interval", now: boundary.Add(45 * time.Second), expectedEvent: EventPoll, expectedWait: 15 * time.Second},
		{name: "Positive offset", now: boundary.Add(-25 * time.Second), offset: 10 * time.Second, expectedEvent: EventPoll, expectedWait: 5 * time.Second},
		{name: "Positive offset reaching archive", now: boundary.Add(5 * time.Second), offset: 10 * time.Second, expectedEvent: EventArchive, expectedWait: 5 * time.Second},
		{name: "Negative offset", now: boundary.Add(-15 * time.Second), offset: -10 * time.Second, expectedEvent: EventArchive, expectedWait: 5 * time.Second},
		{name: "Negative offset just after wake", now: boundary.Add(-10 * time.Second), offset: -10 * time.Second, expectedEvent: EventPoll, expectedWait: 30 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			event, wait := NextEvent(tc.now, testPoll, testArchive, tc.offset)
			assert.Equal(t, tc.expectedEvent, event)
			assert.Equal(t, tc.expectedWait, wait)
		})
	}
}

func TestNextEvent_WakeTimes(t *testing.T) {
	// Walking the grid for one archive interval yields nine polls and one archive
	now := boundary.Add(time.Second)
	archives, polls := 0, 0
	for i := 0; i < 10; i++ {
		event, wait := NextEvent(now, testPoll, testArchive, 0)
		now = now.Add(wait)

		assert.Zero(t, now.Unix()%30, "wake at %s not on the poll grid", now)
		if event == EventArchive {
			archives++
			assert.Zero(t, now.Unix()%300)
		} else {
			polls++
			assert.NotZero(t, now.Unix()%300)
		}
	}
	assert.Equal(t, 1, archives)
	assert.Equal(t, 9, polls)
}

func TestArchiveTimestamp(t *testing.T) {
	testCases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{name: "On boundary", now: boundary, want: boundary},
		{name: "Early wake", now: boundary.Add(-4 * time.Second), want: boundary},
		{name: "Late wake", now: boundary.Add(40 * time.Second), want: boundary},
		{name: "Too early", now: boundary.Add(-6 * time.Second), want: boundary.Add(-testArchive)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ArchiveTimestamp(tc.now, testArchive)
			assert.True(t, got.Equal(tc.want), "expected %s, got %s", tc.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestValidateIntervals(t *testing.T) {
	require.NoError(t, ValidateIntervals(30*time.Second, 300*time.Second))
	require.NoError(t, ValidateIntervals(30*time.Second, 30*time.Second))

	for _, tc := range []struct{ poll, archive time.Duration }{
		{30 * time.Second, 100 * time.Second},
		{0, 300 * time.Second},
		{30 * time.Second, 0},
		{-30 * time.Second, 300 * time.Second},
	} {
		err := ValidateIntervals(tc.poll, tc.archive)
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr), "poll=%s archive=%s", tc.poll, tc.archive)
	}
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "POLL", EventPoll.String())
	assert.Equal(t, "ARCHIVE", EventArchive.String())
}
