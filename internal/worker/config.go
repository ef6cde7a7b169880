// Package worker runs the periodic aggregate refresh and its Pub/Sub trigger.
package worker

import (
	"slices"
	"time"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/stations"
	"github.com/breatheroute/aqfusion/pkg/geo"
)

// RefreshTarget is a group of points whose weather is warmed on every run.
type RefreshTarget struct {
	// Name is the human-readable name of the target.
	Name string

	// Points are the coordinates to warm, typically monitoring sites.
	Points []geo.Point

	// Priority determines refresh order (lower = higher priority).
	Priority int
}

// RefreshConfig holds configuration for the refresh job.
type RefreshConfig struct {
	// Query is the aggregate recomputed on every run.
	Query airquality.Query

	// Targets are the weather warm-up regions.
	// If empty, uses DefaultRefreshTargets.
	Targets []RefreshTarget

	// Concurrency is the number of concurrent weather fetches.
	// Default: 3
	Concurrency int

	// Timeout bounds the aggregate refresh and each weather fetch.
	// Default: 2 minutes
	Timeout time.Duration

	// RefreshWeather enables weather warm-up.
	// Default: true
	RefreshWeather bool
}

// DelhiBounds is the default aggregation area.
var DelhiBounds = geo.BoundingBox{South: 28.4, West: 76.8, North: 28.9, East: 77.4}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Query:          airquality.Query{Bounds: DelhiBounds, Concurrency: airquality.DefaultConcurrency},
		Targets:        DefaultRefreshTargets(),
		Concurrency:    3,
		Timeout:        2 * time.Minute,
		RefreshWeather: true,
	}
}

// DefaultRefreshTargets returns the Delhi warm-up regions, covering the
// monitoring sites queried most often.
func DefaultRefreshTargets() []RefreshTarget {
	return []RefreshTarget{
		{
			Name:     "Central",
			Priority: 1,
			Points: []geo.Point{
				{Lat: 28.6139, Lon: 77.2090}, // Connaught Place
				{Lat: 28.6280, Lon: 77.2410}, // ITO
				{Lat: 28.5921, Lon: 77.2272}, // Lodhi Road
			},
		},
		{
			Name:     "East",
			Priority: 1,
			Points: []geo.Point{
				{Lat: 28.6469, Lon: 77.3160}, // Anand Vihar
				{Lat: 28.6230, Lon: 77.2870}, // Patparganj
			},
		},
		{
			Name:     "South",
			Priority: 2,
			Points: []geo.Point{
				{Lat: 28.5633, Lon: 77.1869}, // R.K. Puram
				{Lat: 28.5500, Lon: 77.2500}, // Nehru Nagar
				{Lat: 28.4986, Lon: 77.2649}, // Okhla
			},
		},
		{
			Name:     "North",
			Priority: 2,
			Points: []geo.Point{
				{Lat: 28.7362, Lon: 77.1117}, // Rohini
				{Lat: 28.6996, Lon: 77.1654}, // Ashok Vihar
				{Lat: 28.7823, Lon: 77.0510}, // Narela
			},
		},
		{
			Name:     "West",
			Priority: 3,
			Points: []geo.Point{
				{Lat: 28.6517, Lon: 77.1000}, // Punjabi Bagh
				{Lat: 28.6090, Lon: 76.9855}, // Najafgarh
				{Lat: 28.5681, Lon: 77.0700}, // Dwarka
			},
		},
	}
}

// TargetFromCatalog turns every catalog station into a warm-up point.
func TargetFromCatalog(cat *stations.Catalog, priority int) RefreshTarget {
	all := cat.All()
	points := make([]geo.Point, 0, len(all))
	for _, s := range all {
		points = append(points, s.Point())
	}
	return RefreshTarget{Name: cat.City(), Points: points, Priority: priority}
}

// AllPoints returns all points from targets, ordered by priority.
func (c RefreshConfig) AllPoints() []geo.Point {
	targets := slices.Clone(c.Targets)
	slices.SortStableFunc(targets, func(a, b RefreshTarget) int {
		return a.Priority - b.Priority
	})

	var points []geo.Point
	for _, t := range targets {
		points = append(points, t.Points...)
	}
	return points
}

// TotalPoints returns the total number of points across all targets.
func (c RefreshConfig) TotalPoints() int {
	total := 0
	for _, t := range c.Targets {
		total += len(t.Points)
	}
	return total
}
