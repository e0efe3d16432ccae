package geohash

import (
	"math"
	"math/rand"
	"testing"

	"github.com/coastwise/swath/internal/spatial"
	"github.com/coastwise/swath/pkg/core"
)

func TestEncode_KnownValues(t *testing.T) {
	cases := []struct {
		lat, lon  float64
		precision int
		want      string
	}{
		{57.64911, 10.40744, 11, "u4pruydqqvj"},
		{42.605, -5.603, 5, "ezs42"},
		{0, 0, 4, "s000"},
	}
	for _, tc := range cases {
		got := Encode(tc.lat, tc.lon, tc.precision)
		if got != tc.want {
			t.Errorf("Encode(%v, %v, %d) = %q, want %q", tc.lat, tc.lon, tc.precision, got, tc.want)
		}
	}
}

func TestBounds_ContainsOriginalPoint(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		lat := rng.Float64()*170 - 85
		lon := rng.Float64()*350 - 175
		for precision := 1; precision <= 9; precision++ {
			key := Encode(lat, lon, precision)
			b, err := Bounds(key)
			if err != nil {
				t.Fatalf("Bounds(%q): %v", key, err)
			}
			if !b.Contains(core.Position{Lat: lat, Lon: lon}) {
				t.Fatalf("cell %q does not contain (%v, %v)", key, lat, lon)
			}
		}
	}
}

func TestBounds_InvalidKey(t *testing.T) {
	if _, err := Bounds("ab!"); err == nil {
		t.Error("expected error for invalid character")
	}
}

func TestPrefix_IsSuperset(t *testing.T) {
	// A shorter prefix must cover the bounds of any finer cell under it.
	key := Encode(-33.8568, 151.2153, 9)
	fine, err := Bounds(key)
	if err != nil {
		t.Fatal(err)
	}
	for l := 1; l < len(key); l++ {
		coarse, err := Bounds(key[:l])
		if err != nil {
			t.Fatal(err)
		}
		if fine.MinLat < coarse.MinLat || fine.MaxLat > coarse.MaxLat ||
			fine.MinLon < coarse.MinLon || fine.MaxLon > coarse.MaxLon {
			t.Errorf("prefix %q does not cover %q", key[:l], key)
		}
	}
	if !IsAncestor(key[:3], key) {
		t.Error("expected prefix to be ancestor")
	}
	if IsAncestor(key, key[:3]) {
		t.Error("longer key cannot be ancestor of its prefix")
	}
}

func TestNeighbors(t *testing.T) {
	ns, err := Neighbors("ezs42")
	if err != nil {
		t.Fatal(err)
	}
	if len(ns) != 8 {
		t.Fatalf("expected 8 neighbors, got %d: %v", len(ns), ns)
	}
	for _, n := range ns {
		if len(n) != 5 {
			t.Errorf("neighbor %q has wrong precision", n)
		}
		if n == "ezs42" {
			t.Error("cell listed as its own neighbor")
		}
	}
}

func TestCover_Box(t *testing.T) {
	region := core.Region{Box: &core.Box{
		MinLat: 42.60, MaxLat: 42.61, MinLon: -5.61, MaxLon: -5.60,
	}}
	candidates := Cover(region, 6)
	if len(candidates) == 0 {
		t.Fatal("expected non-empty cover")
	}
	// The cell of a point inside the region must be covered.
	key := Encode(42.605, -5.605, 6)
	found := false
	for _, c := range candidates {
		if c.Key == key {
			found = true
		}
	}
	if !found {
		t.Errorf("cover misses cell %q of interior point", key)
	}
}

// TestCover_NoFalseNegatives is the soundness property: for random polygons
// and random points, every point inside the polygon must be keyed to a cell
// in the candidate set.
func TestCover_NoFalseNegatives(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const precision = 6

	for trial := 0; trial < 25; trial++ {
		// Random convex-ish polygon around a random center.
		cLat := rng.Float64()*120 - 60
		cLon := rng.Float64()*300 - 150
		n := 3 + rng.Intn(5)
		poly := make([]core.Position, n)
		for i := 0; i < n; i++ {
			ang := float64(i) / float64(n) * 2 * 3.141592653589793
			r := 0.01 + rng.Float64()*0.05
			poly[i] = core.Position{
				Lat: cLat + r*math.Sin(ang),
				Lon: cLon + r*math.Cos(ang),
			}
		}
		region := core.Region{Polygon: poly}
		keys := CoverKeys(region, precision)

		for i := 0; i < 200; i++ {
			p := core.Position{
				Lat: cLat + (rng.Float64()-0.5)*0.15,
				Lon: cLon + (rng.Float64()-0.5)*0.15,
			}
			if !spatial.PointInPolygon(p, poly) {
				continue
			}
			key := Encode(p.Lat, p.Lon, precision)
			if _, ok := keys[key]; !ok {
				t.Fatalf("trial %d: point (%v, %v) inside polygon but cell %q not covered",
					trial, p.Lat, p.Lon, key)
			}
		}
	}
}

func TestCover_InteriorCellsNotBoundary(t *testing.T) {
	// A large box relative to the cell size must produce interior cells.
	region := core.Region{Box: &core.Box{
		MinLat: 40.0, MaxLat: 40.5, MinLon: -5.5, MaxLon: -5.0,
	}}
	candidates := Cover(region, 5)
	interior := 0
	for _, c := range candidates {
		if !c.Boundary {
			interior++
			b, _ := Bounds(c.Key)
			if b.MinLat < 40.0 || b.MaxLat > 40.5 {
				t.Errorf("interior cell %q leaks outside region", c.Key)
			}
		}
	}
	if interior == 0 {
		t.Error("expected at least one interior (non-boundary) cell")
	}
}

func TestCellSize(t *testing.T) {
	lat5, lon5 := CellSize(5)
	lat6, lon6 := CellSize(6)
	if lat6 >= lat5 || lon6 >= lon5 {
		t.Errorf("finer precision must shrink cells: p5=(%v,%v) p6=(%v,%v)", lat5, lon5, lat6, lon6)
	}
	key := Encode(10, 20, 5)
	b, _ := Bounds(key)
	if diff := (b.MaxLat - b.MinLat) - lat5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CellSize lat %v disagrees with Bounds extent %v", lat5, b.MaxLat-b.MinLat)
	}
}
