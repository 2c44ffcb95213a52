package models

import "fmt"

// RecordType classifies a persisted Reading. The numeric values are part of the
// on-disk schema and must not change.
type RecordType int

const (
	// RecordTypeCurrent holds the latest single sample; at most one row exists
	RecordTypeCurrent RecordType = 0
	// RecordTypeArchive holds one permanent average per archive interval
	RecordTypeArchive RecordType = 1
	// RecordTypeShortWindow holds the rolling two minute average; at most one row exists
	RecordTypeShortWindow RecordType = 2
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeCurrent:
		return "current"
	case RecordTypeArchive:
		return "archive"
	case RecordTypeShortWindow:
		return "short_window"
	default:
		return fmt.Sprintf("record_type(%d)", int(t))
	}
}

// Replaces reports whether saving a record of this type replaces the previous row
func (t RecordType) Replaces() bool {
	return t == RecordTypeCurrent || t == RecordTypeShortWindow
}
