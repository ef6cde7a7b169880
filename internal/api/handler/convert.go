package handler

import (
	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/api/models"
	"github.com/breatheroute/aqfusion/internal/exposure"
	"github.com/breatheroute/aqfusion/internal/stations"
	"github.com/breatheroute/aqfusion/pkg/geo"
)

func pointPtr(p *geo.Point) *models.Point {
	if p == nil {
		return nil
	}
	return &models.Point{Lat: p.Lat, Lon: p.Lon}
}

func toStationReading(r airquality.StationReading) models.StationReading {
	c := r.Components
	return models.StationReading{
		StationID: r.UID,
		Name:      r.Name,
		Point:     pointPtr(r.Location),
		AQI:       r.AQI.Ptr(),
		Pollutants: models.Pollutants{
			PM25: c.PM25.Ptr(),
			PM10: c.PM10.Ptr(),
			NO2:  c.NO2.Ptr(),
			O3:   c.O3.Ptr(),
			SO2:  c.SO2.Ptr(),
			CO:   c.CO.Ptr(),
			NH3:  c.NH3.Ptr(),
		},
		ObservedAt: models.TimestampPtr(r.ObservedAt),
	}
}

func toRealtime(res *airquality.AggregationResult) models.RealtimeAirQuality {
	out := models.RealtimeAirQuality{
		CityAQI: res.CityAQI.Ptr(),
		Statistics: models.Statistics{
			Median:       res.Median.Ptr(),
			Mean:         res.Mean.Ptr(),
			TrimmedMean:  res.TrimmedMean.Ptr(),
			WeightedMean: res.WeightedMean.Ptr(),
			P10:          res.Percentiles.P10.Ptr(),
			P25:          res.Percentiles.P25.Ptr(),
			P75:          res.Percentiles.P75.Ptr(),
			P90:          res.Percentiles.P90.Ptr(),
			Min:          res.Min.Ptr(),
			Max:          res.Max.Ptr(),
		},
		ValidCount:    res.ValidCount,
		ExcludedCount: res.ExcludedCount,
		StationCount:  res.StationCount,
		Source:        models.AggregateSource(res.Source),
		ComputedAt:    models.Timestamp(res.ComputedAt),
		Stations:      make([]models.StationReading, 0, len(res.Stations)),
		Diagnostics:   res.Diagnostics,
	}
	if aqi, ok := res.CityAQI.Get(); ok {
		advice := toAdvice(exposure.Advise(aqi))
		out.Advice = &advice
	}
	for _, s := range res.Stations {
		out.Stations = append(out.Stations, toStationReading(s))
	}
	for _, e := range res.Excluded {
		out.Excluded = append(out.Excluded, models.Exclusion{
			StationID: e.Reading.UID,
			Name:      e.Reading.Name,
			Reason:    string(e.Reason),
			Detail:    e.Detail,
		})
	}
	return out
}

func toMatchedStation(m *stations.Match) *models.MatchedStation {
	if m == nil {
		return nil
	}
	out := &models.MatchedStation{
		StationID: m.Candidate.ID,
		Name:      m.Candidate.Name,
		Point:     pointPtr(m.Candidate.Location),
		Method:    models.MatchMethod(m.Method),
	}
	if m.Method == stations.MethodNearest {
		km := m.DistanceKm
		out.DistanceKm = &km
	}
	return out
}

func toAdvice(a exposure.HealthAdvice) models.HealthAdvice {
	return models.HealthAdvice{
		AQI:          a.AQI,
		Level:        string(a.Level),
		Color:        a.Color,
		Message:      a.Message,
		Mask:         a.Mask,
		OutdoorIndex: a.OutdoorIndex,
	}
}

func toSources(s exposure.SourceBreakdown) models.SourceShares {
	return models.SourceShares{
		Traffic:  s.Traffic,
		Stubble:  s.Stubble,
		Dust:     s.Dust,
		Industry: s.Industry,
		Garbage:  s.Garbage,
		Method:   string(s.Method),
	}
}

func toRoutePoint(p exposure.RoutePoint) models.RoutePoint {
	out := models.RoutePoint{
		Point:      models.Point{Lat: p.Point.Lat, Lon: p.Point.Lon},
		AQI:        p.AQI.Ptr(),
		StationID:  p.StationID,
		Confidence: string(p.Confidence),
	}
	if p.StationID != "" {
		km := p.DistanceKm
		out.DistanceKm = &km
	}
	return out
}
