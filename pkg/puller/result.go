package puller

import (
	"fmt"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// FailureKind says why a poll produced no usable reading
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTransport
	FailureDecode
	FailureInsane
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "ok"
	case FailureTransport:
		return "transport"
	case FailureDecode:
		return "decode"
	case FailureInsane:
		return "insane"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Result is the outcome of one fetch+validate step: a reading or a failure.
// Reading is also kept for an insane result so it can be logged.
type Result struct {
	Reading models.Reading
	Kind    FailureKind
	Detail  string
}

// Ok wraps a usable reading
func Ok(r models.Reading) Result {
	return Result{Reading: r}
}

// Failed reports a poll that produced no usable reading
func Failed(kind FailureKind, detail string) Result {
	return Result{Kind: kind, Detail: detail}
}

// Rejected reports a reading that failed validation
func Rejected(r models.Reading, reason string) Result {
	return Result{Reading: r, Kind: FailureInsane, Detail: reason}
}

// OK reports whether the result carries a reading
func (r Result) OK() bool {
	return r.Kind == FailureNone
}

// ResetsConnection reports whether the puller's connection should be rebuilt
func (r Result) ResetsConnection() bool {
	return r.Kind == FailureTransport || r.Kind == FailureDecode
}
