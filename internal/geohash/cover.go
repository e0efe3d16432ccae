package geohash

import (
	"math"

	"github.com/coastwise/swath/internal/spatial"
	"github.com/coastwise/swath/pkg/core"
)

// Candidate is one geohash cell intersecting a query region. Boundary cells
// only partially overlap the region: soundings keyed to them still need the
// exact geometry check. Interior cells do not.
type Candidate struct {
	Key      string
	Boundary bool
}

// Cover returns the set of geohash cells at the given precision whose bounds
// intersect the region. The set never misses a cell containing a region
// point (no false negatives); partially overlapping cells are flagged.
func Cover(region core.Region, precision int) []Candidate {
	bounds := region.Bounds()
	latStep, lonStep := CellSize(precision)

	// Snap the scan to the global cell lattice so every produced key is a
	// real cell boundary, then walk cell centers across the bounding box.
	latStart := math.Floor((bounds.MinLat+90)/latStep)*latStep - 90
	lonStart := math.Floor((bounds.MinLon+180)/lonStep)*lonStep - 180

	seen := make(map[string]bool)
	var out []Candidate
	for lat := latStart; lat < bounds.MaxLat+latStep; lat += latStep {
		cLat := clampLat(lat + latStep/2)
		for lon := lonStart; lon < bounds.MaxLon+lonStep; lon += lonStep {
			cLon := wrapLon(lon + lonStep/2)
			key := Encode(cLat, cLon, precision)
			if seen[key] {
				continue
			}
			seen[key] = true

			cell, err := Bounds(key)
			if err != nil {
				continue
			}
			if !spatial.BoxIntersectsRegion(cell, region) {
				continue
			}
			out = append(out, Candidate{
				Key:      key,
				Boundary: !spatial.BoxInRegion(cell, region),
			})
		}
	}
	return out
}

// CoverKeys returns only the keys of Cover, for membership tests.
func CoverKeys(region core.Region, precision int) map[string]Candidate {
	out := make(map[string]Candidate)
	for _, c := range Cover(region, precision) {
		out[c.Key] = c
	}
	return out
}

func clampLat(lat float64) float64 {
	if lat > 90 {
		return 90
	}
	if lat < -90 {
		return -90
	}
	return lat
}

func wrapLon(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
