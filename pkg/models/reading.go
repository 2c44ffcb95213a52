package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guregu/null"
	"github.com/relvacode/iso8601"
)

// MeasurementTimeLayout is the wire format of Reading.MeasurementTime
const MeasurementTimeLayout = "2006-01-02T15:04:05.000000Z"

// Reading represents one AirGradient sample or an average over several samples.
// Every channel is nullable: an absent value stays absent and is never coerced to zero.
type Reading struct {
	MeasurementTime time.Time `json:"-"`

	SerialNo        null.String `json:"serialno"`
	Wifi            null.Float  `json:"wifi"`
	PM01            null.Float  `json:"pm01"`
	PM02            null.Float  `json:"pm02"`
	PM10            null.Float  `json:"pm10"`
	PM02Compensated null.Float  `json:"pm02Compensated"`
	PM01Standard    null.Float  `json:"pm01Standard"`
	PM02Standard    null.Float  `json:"pm02Standard"`
	PM10Standard    null.Float  `json:"pm10Standard"`
	RCO2            null.Float  `json:"rco2"`
	PM003Count      null.Float  `json:"pm003Count"`
	PM005Count      null.Float  `json:"pm005Count"`
	PM01Count       null.Float  `json:"pm01Count"`
	PM02Count       null.Float  `json:"pm02Count"`
	PM50Count       null.Float  `json:"pm50Count"`
	PM10Count       null.Float  `json:"pm10Count"`
	Atmp            null.Float  `json:"atmp"`
	AtmpCompensated null.Float  `json:"atmpCompensated"`
	Rhum            null.Float  `json:"rhum"`
	RhumCompensated null.Float  `json:"rhumCompensated"`
	TVOCIndex       null.Float  `json:"tvocIndex"`
	TVOCRaw         null.Float  `json:"tvocRaw"`
	NOxIndex        null.Float  `json:"noxIndex"`
	NOxRaw          null.Float  `json:"noxRaw"`
	Boot            null.Int    `json:"boot"`
	BootCount       null.Int    `json:"bootCount"`
	LedMode         null.String `json:"ledMode"`
	Firmware        null.String `json:"firmware"`
	Model           null.String `json:"model"`
}

// FloatChannel names one averaged float channel of a Reading
type FloatChannel struct {
	Name  string
	Value *null.Float
}

// FloatChannels returns the float channels of r in storage order.
// The returned pointers alias r.
func (r *Reading) FloatChannels() []FloatChannel {
	return []FloatChannel{
		{"wifi", &r.Wifi},
		{"pm01", &r.PM01},
		{"pm02", &r.PM02},
		{"pm10", &r.PM10},
		{"pm02Compensated", &r.PM02Compensated},
		{"pm01Standard", &r.PM01Standard},
		{"pm02Standard", &r.PM02Standard},
		{"pm10Standard", &r.PM10Standard},
		{"rco2", &r.RCO2},
		{"pm003Count", &r.PM003Count},
		{"pm005Count", &r.PM005Count},
		{"pm01Count", &r.PM01Count},
		{"pm02Count", &r.PM02Count},
		{"pm50Count", &r.PM50Count},
		{"pm10Count", &r.PM10Count},
		{"atmp", &r.Atmp},
		{"atmpCompensated", &r.AtmpCompensated},
		{"rhum", &r.Rhum},
		{"rhumCompensated", &r.RhumCompensated},
		{"tvocIndex", &r.TVOCIndex},
		{"tvocRaw", &r.TVOCRaw},
		{"noxIndex", &r.NOxIndex},
		{"noxRaw", &r.NOxRaw},
	}
}

// StringFields returns the text fields of r keyed by their wire name
func (r *Reading) StringFields() map[string]null.String {
	return map[string]null.String{
		"serialno": r.SerialNo,
		"ledMode":  r.LedMode,
		"firmware": r.Firmware,
		"model":    r.Model,
	}
}

// Equal reports whether r and o carry the same instant and the same values
func (r Reading) Equal(o Reading) bool {
	if !r.MeasurementTime.Equal(o.MeasurementTime) {
		return false
	}
	r.MeasurementTime = time.Time{}
	o.MeasurementTime = time.Time{}
	return r == o
}

// String renders the reading for log output
func (r Reading) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("Reading{%s: %v}", r.MeasurementTime.Format(time.RFC3339), err)
	}
	return string(b)
}

// readingAlias drops the methods of Reading so the encoder does not recurse
type readingAlias Reading

type readingJSON struct {
	readingAlias
	MeasurementTime *string `json:"measurementTime"`
}

// MarshalJSON encodes every channel key (null when absent) plus measurementTime
func (r Reading) MarshalJSON() ([]byte, error) {
	var ts *string
	if !r.MeasurementTime.IsZero() {
		s := r.MeasurementTime.UTC().Format(MeasurementTimeLayout)
		ts = &s
	}
	return json.Marshal(readingJSON{readingAlias: readingAlias(r), MeasurementTime: ts})
}

// UnmarshalJSON decodes a Reading. measurementTime accepts any ISO-8601 instant
// and is left zero when missing or null, as in raw sensor payloads.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var aux readingJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*r = Reading(aux.readingAlias)
	if aux.MeasurementTime != nil && *aux.MeasurementTime != "" {
		t, err := iso8601.ParseString(*aux.MeasurementTime)
		if err != nil {
			return fmt.Errorf("invalid measurementTime %q: %w", *aux.MeasurementTime, err)
		}
		r.MeasurementTime = t.UTC()
	}

	return nil
}
