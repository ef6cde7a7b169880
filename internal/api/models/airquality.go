package models

// AggregateSource names the fallback level that produced an aggregate.
type AggregateSource string

const (
	AggregateSourceDetailed AggregateSource = "detailed"
	AggregateSourceStale    AggregateSource = "stale"
	AggregateSourceBasic    AggregateSource = "basic"
	AggregateSourceEmpty    AggregateSource = "empty"
)

// Statistics are the robust city-wide AQI statistics.
type Statistics struct {
	Median       *float64 `json:"median"`
	Mean         *float64 `json:"mean"`
	TrimmedMean  *float64 `json:"trimmedMean"`
	WeightedMean *float64 `json:"weightedMean"`
	P10          *float64 `json:"p10"`
	P25          *float64 `json:"p25"`
	P75          *float64 `json:"p75"`
	P90          *float64 `json:"p90"`
	Min          *float64 `json:"min"`
	Max          *float64 `json:"max"`
}

// Pollutants are individual pollutant readings. Missing values are null.
type Pollutants struct {
	PM25 *float64 `json:"pm25"`
	PM10 *float64 `json:"pm10"`
	NO2  *float64 `json:"no2"`
	O3   *float64 `json:"o3"`
	SO2  *float64 `json:"so2"`
	CO   *float64 `json:"co"`
	NH3  *float64 `json:"nh3"`
}

// StationReading is a live reading of one monitoring station.
type StationReading struct {
	StationID  string     `json:"stationId"`
	Name       string     `json:"name"`
	Point      *Point     `json:"point,omitempty"`
	AQI        *float64   `json:"aqi"`
	Pollutants Pollutants `json:"pollutants"`
	ObservedAt *Timestamp `json:"observedAt,omitempty"`
}

// Exclusion is a reading dropped by the sanitizer.
type Exclusion struct {
	StationID string `json:"stationId"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// RealtimeAirQuality is the response of GET /v1/air-quality/realtime.
type RealtimeAirQuality struct {
	CityAQI       *float64         `json:"cityAqi"`
	Advice        *HealthAdvice    `json:"advice,omitempty"`
	Statistics    Statistics       `json:"statistics"`
	ValidCount    int              `json:"validCount"`
	ExcludedCount int              `json:"excludedCount"`
	StationCount  int              `json:"stationCount"`
	Source        AggregateSource  `json:"source"`
	ComputedAt    Timestamp        `json:"computedAt"`
	Stations      []StationReading `json:"stations"`
	Excluded      []Exclusion      `json:"excluded,omitempty"`
	Diagnostics   []string         `json:"diagnostics,omitempty"`
}

// Station is a catalog station, joined with its live reading when one exists.
type Station struct {
	StationID string   `json:"stationId"`
	Name      string   `json:"name"`
	Point     Point    `json:"point"`
	AQI       *float64 `json:"aqi"`
	Live      bool     `json:"live"`
}

// StationList is the response of GET /v1/air-quality/stations.
type StationList struct {
	City   string          `json:"city"`
	Items  []Station       `json:"items"`
	Source AggregateSource `json:"source"`
}

// MatchMethod is how a station was resolved.
type MatchMethod string

const (
	MatchMethodText    MatchMethod = "text"
	MatchMethodNearest MatchMethod = "nearest"
)

// MatchedStation is a resolved station.
type MatchedStation struct {
	StationID  string      `json:"stationId"`
	Name       string      `json:"name"`
	Point      *Point      `json:"point,omitempty"`
	Method     MatchMethod `json:"method"`
	DistanceKm *float64    `json:"distanceKm,omitempty"`
}

// StationMatch is the response of GET /v1/air-quality/stations:match.
type StationMatch struct {
	Query   string          `json:"query,omitempty"`
	Matched bool            `json:"matched"`
	Station *MatchedStation `json:"station,omitempty"`
}
