// Package features builds the fixed-schema numeric vector consumed by the
// forecasting model.
package features

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"unicode"

	"github.com/breatheroute/aqfusion/pkg/optional"
)

// Quantity is the physical quantity a feature was classified as.
type Quantity string

const (
	QuantityPM25        Quantity = "pm25"
	QuantityPM10        Quantity = "pm10"
	QuantityNO2         Quantity = "no2"
	QuantityNO          Quantity = "no"
	QuantityO3          Quantity = "o3"
	QuantitySO2         Quantity = "so2"
	QuantityCO          Quantity = "co"
	QuantityNH3         Quantity = "nh3"
	QuantityAQI         Quantity = "aqi"
	QuantityFire        Quantity = "fire"
	QuantityTemperature Quantity = "temperature"
	QuantityHumidity    Quantity = "humidity"
	QuantityWind        Quantity = "wind"
	QuantityBLH         Quantity = "blh"
	QuantityUnknown     Quantity = "unknown"
)

// Inputs are the measured values a vector is built from. Unset values become 0.
type Inputs struct {
	PM25                optional.Float64 `json:"pm25"`
	PM10                optional.Float64 `json:"pm10"`
	NO2                 optional.Float64 `json:"no2"`
	O3                  optional.Float64 `json:"o3"`
	SO2                 optional.Float64 `json:"so2"`
	CO                  optional.Float64 `json:"co"`
	NH3                 optional.Float64 `json:"nh3"`
	AQI                 optional.Float64 `json:"aqi"`
	FireCount           optional.Float64 `json:"fireCount"`
	Temperature         optional.Float64 `json:"temperature"`
	Humidity            optional.Float64 `json:"humidity"`
	WindSpeed           optional.Float64 `json:"windSpeed"`
	BoundaryLayerHeight optional.Float64 `json:"boundaryLayerHeight"`
}

type rule struct {
	quantity Quantity
	match    func(lower string) bool
	value    func(in Inputs) optional.Float64
}

func contains(sub string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, sub) }
}

func prefix(p string) func(string) bool {
	return func(s string) bool { return strings.HasPrefix(s, p) }
}

// hasToken reports whether tok appears as a whole word in s, splitting on
// anything that is not a letter or digit.
func hasToken(tok string) func(string) bool {
	return func(s string) bool {
		for _, f := range strings.FieldsFunc(s, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if f == tok {
				return true
			}
		}
		return false
	}
}

// rules are evaluated in order; the first match wins. A bare "no" feature
// reads the NO2 value: the model was trained that way.
var rules = []rule{
	{QuantityPM25, func(s string) bool {
		return strings.Contains(s, "pm25") || strings.Contains(s, "pm2.5") || strings.Contains(s, "pm2_5")
	}, func(in Inputs) optional.Float64 { return in.PM25 }},
	{QuantityPM10, contains("pm10"), func(in Inputs) optional.Float64 { return in.PM10 }},
	{QuantityNO2, contains("no2"), func(in Inputs) optional.Float64 { return in.NO2 }},
	{QuantityNO, hasToken("no"), func(in Inputs) optional.Float64 { return in.NO2 }},
	{QuantityO3, contains("o3"), func(in Inputs) optional.Float64 { return in.O3 }},
	{QuantitySO2, contains("so2"), func(in Inputs) optional.Float64 { return in.SO2 }},
	{QuantityCO, prefix("co"), func(in Inputs) optional.Float64 { return in.CO }},
	{QuantityNH3, contains("nh3"), func(in Inputs) optional.Float64 { return in.NH3 }},
	{QuantityAQI, contains("aqi"), func(in Inputs) optional.Float64 { return in.AQI }},
	{QuantityFire, contains("fire"), func(in Inputs) optional.Float64 { return in.FireCount }},
	{QuantityTemperature, contains("temp"), func(in Inputs) optional.Float64 { return in.Temperature }},
	{QuantityHumidity, prefix("hum"), func(in Inputs) optional.Float64 { return in.Humidity }},
	{QuantityWind, contains("wind"), func(in Inputs) optional.Float64 { return in.WindSpeed }},
	{QuantityBLH, contains("blh"), func(in Inputs) optional.Float64 { return in.BoundaryLayerHeight }},
}

// Classify returns the quantity a feature name maps to.
func Classify(name string) Quantity {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, r := range rules {
		if r.match(lower) {
			return r.quantity
		}
	}
	return QuantityUnknown
}

// Entry is one feature of a vector.
type Entry struct {
	Name     string   `json:"name"`
	Value    float64  `json:"value"`
	Quantity Quantity `json:"quantity"`
}

// Vector is an ordered feature vector. It encodes to JSON as an object whose
// keys follow the schema order.
type Vector []Entry

// Build produces one finite entry per schema name, in schema order.
func Build(schema []string, in Inputs) Vector {
	v := make(Vector, 0, len(schema))
	for _, name := range schema {
		e := Entry{Name: name, Quantity: QuantityUnknown}
		lower := strings.ToLower(strings.TrimSpace(name))
		for _, r := range rules {
			if r.match(lower) {
				e.Quantity = r.quantity
				e.Value = finite(r.value(in))
				break
			}
		}
		v = append(v, e)
	}
	return v
}

func finite(f optional.Float64) float64 {
	v, ok := f.Get()
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Names returns the feature names in order.
func (v Vector) Names() []string {
	out := make([]string, len(v))
	for i, e := range v {
		out[i] = e.Name
	}
	return out
}

// Values returns the feature values in order.
func (v Vector) Values() []float64 {
	out := make([]float64, len(v))
	for i, e := range v {
		out[i] = e.Value
	}
	return out
}

// Get returns the value of a named feature.
func (v Vector) Get(name string) (float64, bool) {
	for _, e := range v {
		if e.Name == name {
			return e.Value, true
		}
	}
	return 0, false
}

// MarshalJSON encodes the vector as an ordered {"name": value} object.
func (v Vector) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
