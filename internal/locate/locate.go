// Package locate reads the viewer's own position once at startup.
package locate

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/geochirp/globe-engine/internal/api"
	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/geo"
	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/oschwald/maxminddb-golang"
)

var (
	ErrNotFound      = errors.New("no location for address")
	ErrUnknownSource = errors.New("unknown viewer source")
)

// Locator performs a one-shot position read.
type Locator interface {
	Locate(ctx context.Context) (core.Coordinate, error)
}

// Func adapts a function to Locator.
type Func func(ctx context.Context) (core.Coordinate, error)

// Locate calls f.
func (f Func) Locate(ctx context.Context) (core.Coordinate, error) {
	return f(ctx)
}

// Static always returns the same coordinate.
type Static core.Coordinate

// ParseStatic parses a "lat,lon" value.
func ParseStatic(s string) (Static, error) {
	c, err := geo.ParseCoordinate(s)
	if err != nil {
		return Static{}, fmt.Errorf("parse viewer location %q: %w", s, err)
	}
	return Static(c), nil
}

// Locate returns the fixed coordinate.
func (s Static) Locate(ctx context.Context) (core.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return core.Coordinate{}, err
	}
	return core.Coordinate(s), nil
}

// GeoIP looks up an address in a MaxMind city database. The database is
// opened for each read; reads happen once per process.
type GeoIP struct {
	Path string
	IP   net.IP
}

type cityRecord struct {
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// NewGeoIP validates ip and returns a GeoIP locator for the database at path.
func NewGeoIP(path, ip string) (*GeoIP, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid viewer ip %q", ip)
	}
	return &GeoIP{Path: path, IP: parsed}, nil
}

// Locate opens the database and reads the city location of g.IP.
func (g *GeoIP) Locate(ctx context.Context) (core.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return core.Coordinate{}, err
	}

	db, err := maxminddb.Open(g.Path)
	if err != nil {
		return core.Coordinate{}, fmt.Errorf("open geoip database: %w", err)
	}
	defer db.Close()

	var record cityRecord
	if err := db.Lookup(g.IP, &record); err != nil {
		return core.Coordinate{}, fmt.Errorf("geoip lookup %s: %w", g.IP, err)
	}
	if record.Location.Latitude == nil || record.Location.Longitude == nil {
		return core.Coordinate{}, fmt.Errorf("%w: %s", ErrNotFound, g.IP)
	}
	return core.Coordinate{Lat: *record.Location.Latitude, Lon: *record.Location.Longitude}, nil
}

// FromConfig builds the locator selected by cfg.Source. It returns nil for
// the "none" source.
func FromConfig(cfg config.ViewerConfig) (Locator, error) {
	switch cfg.Source {
	case "", "none":
		return nil, nil
	case "static":
		s, err := ParseStatic(cfg.Location)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "http":
		return api.New(cfg.HTTPURL, ""), nil
	case "geoip":
		g, err := NewGeoIP(cfg.GeoIPPath, cfg.IP)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, cfg.Source)
	}
}
