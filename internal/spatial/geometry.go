// Package spatial implements the exact geometry tests used to confirm
// geohash candidates: point-in-polygon, box containment, and polygon/box
// intersection.
package spatial

import (
	"github.com/coastwise/swath/pkg/core"
)

// PointInPolygon reports whether p lies inside the polygon using the
// ray-casting rule. The polygon is implicitly closed. Points exactly on an
// edge may fall either way; callers relying on geohash pruning already
// treat boundary cells as needing exact confirmation.
func PointInPolygon(p core.Position, poly []core.Position) bool {
	if len(poly) < 3 {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Lat > p.Lat) != (pj.Lat > p.Lat) {
			crossLon := (pj.Lon-pi.Lon)*(p.Lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lon
			if p.Lon < crossLon {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// PointInRegion reports whether p lies inside the region.
func PointInRegion(p core.Position, r core.Region) bool {
	if r.Box != nil {
		return r.Box.Contains(p)
	}
	return PointInPolygon(p, r.Polygon)
}

// BoxInPolygon reports whether the box lies entirely inside the polygon:
// all four corners are inside and no polygon edge crosses the box.
func BoxInPolygon(b core.Box, poly []core.Position) bool {
	corners := boxCorners(b)
	for _, c := range corners {
		if !PointInPolygon(c, poly) {
			return false
		}
	}
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		if segmentIntersectsBox(poly[j], poly[i], b) {
			return false
		}
		j = i
	}
	return true
}

// BoxIntersectsPolygon reports whether the box and polygon share any area.
func BoxIntersectsPolygon(b core.Box, poly []core.Position) bool {
	// Any polygon vertex inside the box.
	for _, v := range poly {
		if b.Contains(v) {
			return true
		}
	}
	// Any box corner inside the polygon.
	for _, c := range boxCorners(b) {
		if PointInPolygon(c, poly) {
			return true
		}
	}
	// Any polygon edge crossing the box.
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		if segmentIntersectsBox(poly[j], poly[i], b) {
			return true
		}
		j = i
	}
	return false
}

// BoxIntersectsRegion reports whether the box overlaps the region.
func BoxIntersectsRegion(b core.Box, r core.Region) bool {
	if r.Box != nil {
		return b.Intersects(*r.Box)
	}
	return BoxIntersectsPolygon(b, r.Polygon)
}

// BoxInRegion reports whether the box lies entirely within the region.
func BoxInRegion(b core.Box, r core.Region) bool {
	if r.Box != nil {
		return b.MinLat >= r.Box.MinLat && b.MaxLat <= r.Box.MaxLat &&
			b.MinLon >= r.Box.MinLon && b.MaxLon <= r.Box.MaxLon
	}
	return BoxInPolygon(b, r.Polygon)
}

func boxCorners(b core.Box) [4]core.Position {
	return [4]core.Position{
		{Lat: b.MinLat, Lon: b.MinLon},
		{Lat: b.MinLat, Lon: b.MaxLon},
		{Lat: b.MaxLat, Lon: b.MinLon},
		{Lat: b.MaxLat, Lon: b.MaxLon},
	}
}

// segmentIntersectsBox reports whether segment a-b crosses or touches the box.
func segmentIntersectsBox(a, b core.Position, box core.Box) bool {
	if box.Contains(a) || box.Contains(b) {
		return true
	}
	// Trivial rejection: segment bounding box outside the box.
	if max(a.Lat, b.Lat) < box.MinLat || min(a.Lat, b.Lat) > box.MaxLat ||
		max(a.Lon, b.Lon) < box.MinLon || min(a.Lon, b.Lon) > box.MaxLon {
		return false
	}
	corners := boxCorners(box)
	edges := [4][2]core.Position{
		{corners[0], corners[1]},
		{corners[1], corners[3]},
		{corners[3], corners[2]},
		{corners[2], corners[0]},
	}
	for _, e := range edges {
		if segmentsIntersect(a, b, e[0], e[1]) {
			return true
		}
	}
	return false
}

// segmentsIntersect reports whether segments p1-p2 and p3-p4 intersect.
func segmentsIntersect(p1, p2, p3, p4 core.Position) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegment(p3, p4, p1) {
		return true
	}
	if d2 == 0 && onSegment(p3, p4, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, p3) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, p4) {
		return true
	}
	return false
}

func cross(a, b, c core.Position) float64 {
	return (b.Lon-a.Lon)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lon-a.Lon)
}

func onSegment(a, b, p core.Position) bool {
	return min(a.Lon, b.Lon) <= p.Lon && p.Lon <= max(a.Lon, b.Lon) &&
		min(a.Lat, b.Lat) <= p.Lat && p.Lat <= max(a.Lat, b.Lat)
}
