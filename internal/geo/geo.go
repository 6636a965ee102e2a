// Package geo parses and validates the parcel polygons accepted by the
// screening API. All geometry is WGS84 (EPSG:4326) GeoJSON.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	geoarea "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Validation limits for submitted parcels.
const (
	MaxVertices = 10000
	MaxAreaHa   = 10000.0
	MinVertices = 4 // triangle plus the closing point
)

// Brazil bounding box. Coordinates outside it are rejected before any
// database work happens.
var brazilBound = orb.Bound{
	Min: orb.Point{-73.99, -33.75},
	Max: orb.Point{-34.79, 5.27},
}

// Validation errors. All wrap ErrInvalidPolygon so callers can classify
// them with a single errors.Is.
var (
	ErrInvalidPolygon   = errors.New("geo: invalid polygon")
	ErrNotPolygon       = fmt.Errorf("%w: geometry must be a Polygon or MultiPolygon", ErrInvalidPolygon)
	ErrRingNotClosed    = fmt.Errorf("%w: ring is not closed", ErrInvalidPolygon)
	ErrTooFewVertices   = fmt.Errorf("%w: ring has fewer than %d positions", ErrInvalidPolygon, MinVertices)
	ErrTooManyVertices  = fmt.Errorf("%w: polygon exceeds %d vertices", ErrInvalidPolygon, MaxVertices)
	ErrOutsideBrazil    = fmt.Errorf("%w: coordinates outside Brazil", ErrInvalidPolygon)
	ErrSelfIntersection = fmt.Errorf("%w: ring self-intersects", ErrInvalidPolygon)
	ErrAreaTooLarge     = fmt.Errorf("%w: area exceeds %.0f ha", ErrInvalidPolygon, MaxAreaHa)
	ErrAreaZero         = fmt.Errorf("%w: polygon has no area", ErrInvalidPolygon)
)

// Parcel is a validated parcel geometry ready for screening.
type Parcel struct {
	geom   orb.Geometry
	raw    json.RawMessage
	areaHa float64
}

// Parse decodes raw GeoJSON into a Parcel and enforces every geometry
// invariant. It accepts a Polygon, a MultiPolygon, or a Feature wrapping
// either.
func Parse(raw json.RawMessage) (*Parcel, error) {
	geom, norm, err := decode(raw)
	if err != nil {
		return nil, err
	}
	p := &Parcel{geom: geom, raw: norm}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.areaHa = math.Abs(geoarea.Area(geom)) / 10000.0
	if p.areaHa <= 0 {
		return nil, ErrAreaZero
	}
	if p.areaHa > MaxAreaHa {
		return nil, fmt.Errorf("%w (got %.2f ha)", ErrAreaTooLarge, p.areaHa)
	}
	return p, nil
}

// decode unwraps an optional Feature envelope and returns the geometry plus
// its bare GeoJSON encoding.
func decode(raw json.RawMessage) (orb.Geometry, json.RawMessage, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}
	if probe.Type == "Feature" {
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
		}
		norm, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
		if err != nil {
			return nil, nil, fmt.Errorf("geo: encode geometry: %w", err)
		}
		return f.Geometry, norm, nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}
	return g.Geometry(), raw, nil
}

func (p *Parcel) validate() error {
	var polys []orb.Polygon
	switch g := p.geom.(type) {
	case orb.Polygon:
		polys = []orb.Polygon{g}
	case orb.MultiPolygon:
		polys = g
	default:
		return ErrNotPolygon
	}
	if len(polys) == 0 {
		return ErrNotPolygon
	}
	total := 0
	for _, poly := range polys {
		if len(poly) == 0 {
			return ErrNotPolygon
		}
		for _, ring := range poly {
			if len(ring) < MinVertices {
				return ErrTooFewVertices
			}
			if !ring.Closed() {
				return ErrRingNotClosed
			}
			total += len(ring)
			for _, pt := range ring {
				if !brazilBound.Contains(pt) {
					return fmt.Errorf("%w: point (%.4f, %.4f)", ErrOutsideBrazil, pt[0], pt[1])
				}
			}
			if ringSelfIntersects(ring) {
				return ErrSelfIntersection
			}
		}
	}
	if total > MaxVertices {
		return fmt.Errorf("%w (got %d)", ErrTooManyVertices, total)
	}
	return nil
}

// AreaHa returns the geodesic area in hectares.
func (p *Parcel) AreaHa() float64 { return p.areaHa }

// VertexCount returns the total number of ring positions.
func (p *Parcel) VertexCount() int {
	n := 0
	switch g := p.geom.(type) {
	case orb.Polygon:
		for _, r := range g {
			n += len(r)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			for _, r := range poly {
				n += len(r)
			}
		}
	}
	return n
}

// Centroid returns the area-weighted centroid as (lon, lat).
func (p *Parcel) Centroid() orb.Point {
	c, _ := planar.CentroidArea(p.geom)
	return c
}

// Bound returns the bounding box of the parcel.
func (p *Parcel) Bound() orb.Bound { return p.geom.Bound() }

// GeoJSON returns the bare geometry encoding (never a Feature wrapper).
func (p *Parcel) GeoJSON() json.RawMessage { return p.raw }

// Geometry exposes the underlying orb geometry.
func (p *Parcel) Geometry() orb.Geometry { return p.geom }

// WKT returns the well-known-text encoding of the parcel.
func (p *Parcel) WKT() string { return wkt.MarshalString(p.geom) }

// ringSelfIntersects checks every non-adjacent segment pair of the ring.
// Quadratic, bounded by the vertex limit.
func ringSelfIntersects(r orb.Ring) bool {
	n := len(r) - 1 // segments; last point repeats the first
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// skip adjacent segments, including the wrap-around pair
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(r[i], r[i+1], r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	// collinear overlap cases
	if d1 == 0 && onSegment(q1, q2, p1) {
		return true
	}
	if d2 == 0 && onSegment(q1, q2, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, q1) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, q2) {
		return true
	}
	return false
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, c orb.Point) bool {
	return math.Min(a[0], b[0]) <= c[0] && c[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= c[1] && c[1] <= math.Max(a[1], b[1])
}
