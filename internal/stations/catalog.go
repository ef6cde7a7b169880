// Package stations holds the static station registry and resolves free-text
// station names to catalog or live stations.
package stations

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/breatheroute/aqfusion/pkg/geo"
)

// Errors.
var (
	ErrStationNotFound = errors.New("station not found")
	ErrEmptyCatalog    = errors.New("station catalog is empty")
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Station is a catalog entry.
type Station struct {
	ID   string  `yaml:"id" json:"id"`
	Name string  `yaml:"name" json:"name"`
	Lat  float64 `yaml:"lat" json:"lat"`
	Lon  float64 `yaml:"lon" json:"lon"`
}

// Point returns the station location.
func (s Station) Point() geo.Point {
	return geo.Point{Lat: s.Lat, Lon: s.Lon}
}

type catalogFile struct {
	City     string    `yaml:"city"`
	Stations []Station `yaml:"stations"`
}

// Catalog is a read-only registry of known stations.
type Catalog struct {
	city     string
	stations []Station
	byID     map[string]int
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Stations) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		city:     f.City,
		stations: f.Stations,
		byID:     make(map[string]int, len(f.Stations)),
	}
	for i, s := range f.Stations {
		if s.ID == "" {
			return nil, fmt.Errorf("station %d: missing id", i)
		}
		if err := s.Point().Validate(); err != nil {
			return nil, fmt.Errorf("station %s: %w", s.ID, err)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("station %s: duplicate id", s.ID)
		}
		c.byID[s.ID] = i
	}
	return c, nil
}

// City returns the city the catalog covers.
func (c *Catalog) City() string {
	return c.city
}

// All returns a copy of every station.
func (c *Catalog) All() []Station {
	return append([]Station(nil), c.stations...)
}

// ByID looks up a station.
func (c *Catalog) ByID(id string) (Station, error) {
	i, ok := c.byID[id]
	if !ok {
		return Station{}, fmt.Errorf("%w: %s", ErrStationNotFound, id)
	}
	return c.stations[i], nil
}

// Candidates returns the catalog as matcher candidates.
func (c *Catalog) Candidates() []Candidate {
	out := make([]Candidate, len(c.stations))
	for i, s := range c.stations {
		p := s.Point()
		out[i] = Candidate{ID: s.ID, Name: s.Name, Location: &p}
	}
	return out
}

// Bounds returns the box enclosing every station, padded by padDeg degrees.
func (c *Catalog) Bounds(padDeg float64) geo.BoundingBox {
	points := make([]geo.Point, len(c.stations))
	for i, s := range c.stations {
		points[i] = s.Point()
	}
	box, _ := geo.Enclose(points)
	return box.Pad(padDeg)
}
