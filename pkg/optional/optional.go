// Package optional provides a nullable float64 that keeps "missing" distinct
// from a legitimate zero reading.
package optional

import (
	"encoding/json"
	"math"
	"strconv"
)

// Float64 is a float64 that may be unset. The zero value is unset.
type Float64 struct {
	value float64
	set   bool
}

// Of returns a set Float64 holding v.
func Of(v float64) Float64 {
	return Float64{value: v, set: true}
}

// None returns an unset Float64.
func None() Float64 {
	return Float64{}
}

// FromPtr converts a *float64 into a Float64. A nil pointer is unset.
func FromPtr(p *float64) Float64 {
	if p == nil {
		return None()
	}
	return Of(*p)
}

// IsSet reports whether a value is present.
func (f Float64) IsSet() bool {
	return f.set
}

// Get returns the value and whether it is present.
func (f Float64) Get() (float64, bool) {
	return f.value, f.set
}

// Or returns the value if present, otherwise def.
func (f Float64) Or(def float64) float64 {
	if !f.set {
		return def
	}
	return f.value
}

// Ptr returns a pointer to a copy of the value, or nil when unset.
func (f Float64) Ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}

// Finite reports whether the value is present and neither NaN nor infinite.
func (f Float64) Finite() bool {
	return f.set && !math.IsNaN(f.value) && !math.IsInf(f.value, 0)
}

// OrElse returns f if set, otherwise other.
func (f Float64) OrElse(other Float64) Float64 {
	if f.set {
		return f
	}
	return other
}

func (f Float64) String() string {
	if !f.set {
		return "<none>"
	}
	return strconv.FormatFloat(f.value, 'f', -1, 64)
}

// MarshalJSON encodes an unset value as null.
func (f Float64) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// UnmarshalJSON decodes null as unset.
func (f *Float64) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = None()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Of(v)
	return nil
}
