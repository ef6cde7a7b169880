package models

// HealthAdvice is the advice band for an AQI value.
type HealthAdvice struct {
	AQI          float64 `json:"aqi"`
	Level        string  `json:"level"`
	Color        string  `json:"color"`
	Message      string  `json:"message"`
	Mask         string  `json:"mask"`
	OutdoorIndex int     `json:"outdoorIndex"`
}

// SourceShares are percentage contributions of pollution sources.
type SourceShares struct {
	Traffic  float64 `json:"traffic"`
	Stubble  float64 `json:"stubble"`
	Dust     float64 `json:"dust"`
	Industry float64 `json:"industry"`
	Garbage  float64 `json:"garbage"`
	Method   string  `json:"method"`
}

// ExposureAdvice is the response of GET /v1/exposure/advice.
type ExposureAdvice struct {
	Station      string       `json:"station,omitempty"`
	Advice       HealthAdvice `json:"advice"`
	RiskCategory string       `json:"riskCategory"`
	Degraded     []string     `json:"degraded,omitempty"`
}

// ExposureSources is the response of GET /v1/exposure/sources.
type ExposureSources struct {
	Station  string       `json:"station,omitempty"`
	AQI      float64      `json:"aqi"`
	Sources  SourceShares `json:"sources"`
	Degraded []string     `json:"degraded,omitempty"`
}

// RouteExposureRequest is the body of POST /v1/exposure/route. Either
// Polyline or Points is required.
type RouteExposureRequest struct {
	Polyline      string  `json:"polyline,omitempty"`
	Points        []Point `json:"points,omitempty"`
	IntervalKm    float64 `json:"intervalKm,omitempty"`
	IncludePoints bool    `json:"includePoints,omitempty"`
}

// RoutePoint is one sampled route point and the AQI assigned to it.
type RoutePoint struct {
	Point      Point    `json:"point"`
	AQI        *float64 `json:"aqi"`
	StationID  string   `json:"stationId,omitempty"`
	DistanceKm *float64 `json:"distanceKm,omitempty"`
	Confidence string   `json:"confidence,omitempty"`
}

// RouteExposure is the response of POST /v1/exposure/route.
type RouteExposure struct {
	Exposure      float64         `json:"exposure"`
	Risk          string          `json:"risk"`
	DistanceKm    float64         `json:"distanceKm"`
	PointCount    int             `json:"pointCount"`
	MissingPoints int             `json:"missingPoints"`
	MeanAQI       *float64        `json:"meanAqi"`
	MaxAQI        *float64        `json:"maxAqi"`
	Source        AggregateSource `json:"source"`
	Points        []RoutePoint    `json:"points,omitempty"`
}
