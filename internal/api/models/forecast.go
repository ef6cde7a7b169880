package models

// Feature is one named model input.
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Weather is the weather observation used for a snapshot.
type Weather struct {
	Temperature   float64   `json:"temperature"`
	Humidity      float64   `json:"humidity"`
	WindSpeed     float64   `json:"windSpeed"`
	WindDirection float64   `json:"windDirection,omitempty"`
	Condition     string    `json:"condition"`
	Source        string    `json:"source"`
	ObservedAt    Timestamp `json:"observedAt"`
}

// FireActivity is the number of active fires around the city.
type FireActivity struct {
	Count  int    `json:"count"`
	Source string `json:"source"`
}

// FeatureSnapshot is the response of GET /v1/features.
type FeatureSnapshot struct {
	Station       *MatchedStation `json:"station,omitempty"`
	AQI           *float64        `json:"aqi"`
	CityAQI       *float64        `json:"cityAqi"`
	AQISource     AggregateSource `json:"aqiSource"`
	Weather       *Weather        `json:"weather,omitempty"`
	Fire          *FireActivity   `json:"fire,omitempty"`
	Features      []Feature       `json:"features"`
	SchemaDefault bool            `json:"schemaDefault"`
	Degraded      []string        `json:"degraded,omitempty"`
	AssembledAt   Timestamp       `json:"assembledAt"`
}

// Horizons are forecast AQI values per horizon. A null horizon was not
// returned by the model.
type Horizons struct {
	H6  *float64 `json:"6h"`
	H24 *float64 `json:"24h"`
	H48 *float64 `json:"48h"`
	H72 *float64 `json:"72h"`
}

// Forecast is the response of GET /v1/forecast.
type Forecast struct {
	Station     string    `json:"station"`
	CurrentAQI  *float64  `json:"currentAqi"`
	Forecast    Horizons  `json:"forecast"`
	Degraded    []string  `json:"degraded,omitempty"`
	GeneratedAt Timestamp `json:"generatedAt"`
}
