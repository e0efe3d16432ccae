// Package transform projects geographic positions into the project
// coordinate system. The built-in service implements WGS84 to UTM; other
// projections plug in behind the Service interface.
package transform

import (
	"fmt"
	"math"

	"github.com/coastwise/swath/pkg/core"
)

// Service projects WGS84 positions into a projected CRS.
type Service interface {
	// SourceCRS and TargetCRS are EPSG identifiers, e.g. "EPSG:4326".
	SourceCRS() string
	TargetCRS() string
	// VerticalRef names the vertical datum depths are reduced to.
	VerticalRef() string
	Forward(p core.Position) (core.ProjectedPosition, error)
}

// Supported vertical references. Anything else is rejected with a
// *core.TransformError rather than silently passed through.
var supportedVerticalRefs = map[string]bool{
	"waterline": true,
	"ellipse":   true,
	"MLLW":      true,
	"MHW":       true,
}

// SupportedVerticalRef reports whether a vertical datum name is known.
func SupportedVerticalRef(name string) bool {
	return supportedVerticalRefs[name]
}

// WGS84 ellipsoid.
const (
	semiMajor  = 6378137.0
	flattening = 1.0 / 298.257223563
	utmScale   = 0.9996
)

// UTM is the built-in WGS84 to UTM transverse Mercator projection.
type UTM struct {
	zone        int
	north       bool
	verticalRef string
	centralLon  float64
}

// ZoneFor returns the UTM zone for a position and whether the position is
// inside UTM coverage (|lat| <= 84).
func ZoneFor(p core.Position) (zone int, north bool, ok bool) {
	if p.Lat < -84 || p.Lat > 84 {
		return 0, false, false
	}
	zone = int(math.Floor((p.Lon+180)/6))%60 + 1
	return zone, p.Lat >= 0, true
}

// NewUTM creates a projection for one UTM zone. The vertical reference must
// be one of the supported datums.
func NewUTM(zone int, north bool, verticalRef string) (*UTM, error) {
	if zone < 1 || zone > 60 {
		return nil, fmt.Errorf("utm zone %d out of range [1, 60]", zone)
	}
	if !SupportedVerticalRef(verticalRef) {
		return nil, &core.TransformError{
			SourceCRS:   "EPSG:4326",
			TargetCRS:   epsgFor(zone, north),
			VerticalRef: verticalRef,
			Reason:      "unsupported vertical datum",
		}
	}
	return &UTM{
		zone:        zone,
		north:       north,
		verticalRef: verticalRef,
		centralLon:  float64(zone-1)*6 - 180 + 3,
	}, nil
}

// NewUTMFor picks the zone from a representative position, typically the
// first navigation fix of a survey.
func NewUTMFor(p core.Position, verticalRef string) (*UTM, error) {
	zone, north, ok := ZoneFor(p)
	if !ok {
		return nil, &core.TransformError{
			SourceCRS:   "EPSG:4326",
			TargetCRS:   "UTM",
			VerticalRef: verticalRef,
			Reason:      fmt.Sprintf("latitude %.4f outside UTM coverage", p.Lat),
		}
	}
	return NewUTM(zone, north, verticalRef)
}

func epsgFor(zone int, north bool) string {
	if north {
		return fmt.Sprintf("EPSG:%d", 32600+zone)
	}
	return fmt.Sprintf("EPSG:%d", 32700+zone)
}

func (u *UTM) SourceCRS() string   { return "EPSG:4326" }
func (u *UTM) TargetCRS() string   { return epsgFor(u.zone, u.north) }
func (u *UTM) VerticalRef() string { return u.verticalRef }
func (u *UTM) Zone() int           { return u.zone }

// Forward projects a WGS84 position into the zone. Positions outside UTM
// latitude coverage are rejected.
func (u *UTM) Forward(p core.Position) (core.ProjectedPosition, error) {
	if p.Lat < -84 || p.Lat > 84 {
		return core.ProjectedPosition{}, &core.TransformError{
			SourceCRS:   u.SourceCRS(),
			TargetCRS:   u.TargetCRS(),
			VerticalRef: u.verticalRef,
			Reason:      fmt.Sprintf("latitude %.4f outside UTM coverage", p.Lat),
		}
	}

	e2 := flattening * (2 - flattening)
	ep2 := e2 / (1 - e2)

	lat := p.Lat * math.Pi / 180
	dLon := (p.Lon - u.centralLon) * math.Pi / 180

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	tanLat := math.Tan(lat)

	n := semiMajor / math.Sqrt(1-e2*sinLat*sinLat)
	t := tanLat * tanLat
	c := ep2 * cosLat * cosLat
	a := cosLat * dLon

	m := meridianArc(lat, e2)

	easting := utmScale*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*a*a*a*a*a/120) + 500000

	northing := utmScale * (m + n*tanLat*(a*a/2+
		(5-t+9*c+4*c*c)*a*a*a*a/24+
		(61-58*t+t*t+600*c-330*ep2)*a*a*a*a*a*a/720))
	if !u.north {
		northing += 10000000
	}

	return core.ProjectedPosition{Easting: easting, Northing: northing}, nil
}

// meridianArc is the distance along the meridian from the equator.
func meridianArc(lat, e2 float64) float64 {
	e4 := e2 * e2
	e6 := e4 * e2
	return semiMajor * ((1-e2/4-3*e4/64-5*e6/256)*lat -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*lat) +
		(15*e4/256+45*e6/1024)*math.Sin(4*lat) -
		(35*e6/3072)*math.Sin(6*lat))
}
