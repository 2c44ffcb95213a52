package puller

import (
	"fmt"
	"time"
)

// Event classifies a scheduler wake
type Event int

const (
	EventPoll Event = iota
	EventArchive
)

func (e Event) String() string {
	switch e {
	case EventPoll:
		return "POLL"
	case EventArchive:
		return "ARCHIVE"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// archiveSlack pulls a slightly early archive wake onto the boundary it was meant for
const archiveSlack = 5 * time.Second

// ConfigurationError reports scheduler settings that cannot be run
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateIntervals checks that both intervals are positive and that archive
// is an exact multiple of poll
func ValidateIntervals(poll, archive time.Duration) error {
	if poll <= 0 {
		return &ConfigurationError{Field: "poll interval", Reason: fmt.Sprintf("must be positive, got %s", poll)}
	}
	if archive <= 0 {
		return &ConfigurationError{Field: "archive interval", Reason: fmt.Sprintf("must be positive, got %s", archive)}
	}
	if archive%poll != 0 {
		return &ConfigurationError{
			Field:  "archive interval",
			Reason: fmt.Sprintf("%s is not a multiple of the poll interval %s", archive, poll),
		}
	}
	return nil
}

// NextEvent classifies the next wake after now and returns how long to sleep
// until it. The grid is shifted by offset, so with offset 0 wakes land on
// multiples of poll and an ARCHIVE is reported when the next poll falls on a
// multiple of archive.
func NextEvent(now time.Time, poll, archive, offset time.Duration) (Event, time.Duration) {
	t := now.Add(-offset).UnixNano()
	nextPoll := floorDiv(t, int64(poll))*int64(poll) + int64(poll)
	nextArchive := floorDiv(t, int64(archive))*int64(archive) + int64(archive)

	event := EventPoll
	if nextPoll == nextArchive {
		event = EventArchive
	}
	return event, time.Duration(nextPoll - t)
}

// ArchiveTimestamp snaps now onto the archive grid
func ArchiveTimestamp(now time.Time, archive time.Duration) time.Time {
	t := now.Add(archiveSlack).UnixNano()
	return time.Unix(0, floorDiv(t, int64(archive))*int64(archive)).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
