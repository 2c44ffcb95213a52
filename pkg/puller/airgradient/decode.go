package airgradient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// requiredKeys must be present in every payload, even if null
var requiredKeys = []string{"serialno"}

type fieldKind int

const (
	kindNumber fieldKind = iota
	kindString
)

// payloadFields maps every decoded sensor key, matched exactly, to its JSON kind
var payloadFields = func() map[string]fieldKind {
	var r models.Reading
	fields := map[string]fieldKind{
		"boot":      kindNumber,
		"bootCount": kindNumber,
	}
	for _, ch := range r.FloatChannels() {
		fields[ch.Name] = kindNumber
	}
	for name := range r.StringFields() {
		fields[name] = kindString
	}
	return fields
}()

// checkKind reports whether raw is null or a JSON value of the given kind
func checkKind(raw json.RawMessage, kind fieldKind) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch c := raw[0]; {
	case c == 'n':
		return true
	case kind == kindString:
		return c == '"'
	default:
		return c == '-' || (c >= '0' && c <= '9')
	}
}

// DecodeMeasures converts a /measures/current body into a Reading. JSON null
// and missing optional keys both decode as absent. Keys are matched exactly;
// unknown keys are ignored. MeasurementTime is left zero.
func DecodeMeasures(body []byte) (models.Reading, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.Reading{}, &DecodeError{Body: string(body), Err: errors.New("response is not a JSON object")}
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return models.Reading{}, &DecodeError{Body: string(body), Err: err}
	}
	for _, key := range requiredKeys {
		if _, ok := keys[key]; !ok {
			return models.Reading{}, &DecodeError{Body: string(body), Err: fmt.Errorf("missing required field %q", key)}
		}
	}

	// Only exact sensor keys survive; measurementTime is never taken from the sensor
	known := make(map[string]json.RawMessage, len(payloadFields))
	for key, raw := range keys {
		kind, ok := payloadFields[key]
		if !ok {
			continue
		}
		if !checkKind(raw, kind) {
			return models.Reading{}, &DecodeError{Body: string(body), Err: fmt.Errorf("field %q has the wrong JSON type: %s", key, raw)}
		}
		known[key] = raw
	}

	stripped, err := json.Marshal(known)
	if err != nil {
		return models.Reading{}, &DecodeError{Body: string(body), Err: err}
	}

	var r models.Reading
	if err := json.Unmarshal(stripped, &r); err != nil {
		return models.Reading{}, &DecodeError{Body: string(body), Err: err}
	}

	return r, nil
}
