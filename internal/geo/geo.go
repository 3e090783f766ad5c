package geo

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/geochirp/globe-engine/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Distances here are planar, in degrees. Points are built with X=lon and Y=lat
// so geometry operations line up with the (lat, lon) plane used for proximity.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Rand is the random source used by Obfuscate. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// Obfuscate offsets coord by a random vector of length r in [0, radius) and
// direction θ in [0, 2π). The radius is sampled linearly, not area-uniform.
// Results are not clamped to valid lat/lon ranges.
func Obfuscate(coord core.Coordinate, radius float64, rnd Rand) core.Coordinate {
	if radius <= 0 {
		return coord
	}
	if rnd == nil {
		rnd = defaultRand{}
	}
	theta := rnd.Float64() * 2 * math.Pi
	r := rnd.Float64() * radius
	return core.Coordinate{
		Lat: coord.Lat + r*math.Cos(theta),
		Lon: coord.Lon + r*math.Sin(theta),
	}
}

// ObfuscateReading derives a public coordinate from a precise reading.
func ObfuscateReading(reading core.RawLocationReading, radius float64, rnd Rand) core.Coordinate {
	return Obfuscate(core.Coordinate(reading), radius, rnd)
}

// Point converts a coordinate to a planar geometry point (X=lon, Y=lat).
// Non-finite coordinates are rejected by the geometry constructor.
func Point(c core.Coordinate) (geom.Point, error) {
	return geom.NewPoint(geom.Coordinates{
		XY: geom.XY{X: c.Lon, Y: c.Lat},
	})
}

// Distance is the Euclidean distance between a and b in the (lat, lon) plane.
// It is +Inf when either coordinate is not a finite point.
func Distance(a, b core.Coordinate) float64 {
	pa, err := Point(a)
	if err != nil {
		return math.Inf(1)
	}
	pb, err := Point(b)
	if err != nil {
		return math.Inf(1)
	}
	d, ok := geom.Distance(pa.AsGeometry(), pb.AsGeometry())
	if !ok {
		return math.Inf(1)
	}
	return d
}

// IsNearby reports whether a and b are closer than threshold degrees.
// It returns false when either coordinate is absent.
func IsNearby(a, b *core.Coordinate, threshold float64) bool {
	if a == nil || b == nil {
		return false
	}
	return Distance(*a, *b) < threshold
}

// ParseCoordinate parses a "lat,lon" string.
func ParseCoordinate(s string) (core.Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	if !Valid(core.Coordinate{Lat: lat, Lon: lon}) {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	return core.Coordinate{Lat: lat, Lon: lon}, nil
}

// Finite reports whether both components of c are finite numbers.
func Finite(c core.Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) &&
		!math.IsNaN(c.Lon) && !math.IsInf(c.Lon, 0)
}

// Valid reports whether c lies within [-90,90] x [-180,180].
func Valid(c core.Coordinate) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}

// maxMercatorLat is the latitude where EPSG:3857 becomes square.
const maxMercatorLat = 85.05112878

// WebMercator projects a WGS84 coordinate to EPSG:3857 meters. Latitudes
// beyond the projection's limit are clamped so the poles stay finite.
func WebMercator(c core.Coordinate) (x, y float64) {
	lat := math.Max(-maxMercatorLat, math.Min(maxMercatorLat, c.Lat))
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ = f(c.Lon, lat, 0)
	return x, y
}

// Label formats c as a short human readable string, e.g. "12.35°N 45.10°W".
func Label(c core.Coordinate) string {
	ns, ew := "N", "E"
	if c.Lat < 0 {
		ns = "S"
	}
	if c.Lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.2f°%s %.2f°%s", math.Abs(c.Lat), ns, math.Abs(c.Lon), ew)
}
