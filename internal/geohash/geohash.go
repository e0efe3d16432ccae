// Package geohash implements the prefix-comparable spatial encoding used to
// prune candidate soundings before exact geometry tests and to route grid
// deltas to tiles. Shorter prefixes are geometric supersets of any finer
// cell sharing the prefix.
package geohash

import (
	"fmt"
	"strings"

	"github.com/coastwise/swath/pkg/core"
)

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// MaxPrecision is the longest supported key. Twelve characters resolve to
// roughly 3.7 cm of longitude at the equator, well below sonar accuracy.
const MaxPrecision = 12

var decodeMap = func() map[byte]int {
	m := make(map[byte]int, len(base32))
	for i := 0; i < len(base32); i++ {
		m[base32[i]] = i
	}
	return m
}()

// Encode returns the geohash key for a position at the given precision
// (key length in characters).
func Encode(lat, lon float64, precision int) string {
	if precision <= 0 || precision > MaxPrecision {
		precision = MaxPrecision
	}

	var sb strings.Builder
	sb.Grow(precision)

	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0
	evenBit := true
	idx := 0
	bit := 0

	for sb.Len() < precision {
		if evenBit {
			mid := (lonMin + lonMax) / 2
			if lon >= mid {
				idx = idx<<1 | 1
				lonMin = mid
			} else {
				idx <<= 1
				lonMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat >= mid {
				idx = idx<<1 | 1
				latMin = mid
			} else {
				idx <<= 1
				latMax = mid
			}
		}
		evenBit = !evenBit
		bit++
		if bit == 5 {
			sb.WriteByte(base32[idx])
			bit = 0
			idx = 0
		}
	}
	return sb.String()
}

// Bounds returns the geographic cell covered by a key.
func Bounds(key string) (core.Box, error) {
	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0
	evenBit := true

	for i := 0; i < len(key); i++ {
		v, ok := decodeMap[key[i]]
		if !ok {
			return core.Box{}, fmt.Errorf("invalid geohash character %q in %q", key[i], key)
		}
		for n := 4; n >= 0; n-- {
			bit := (v >> n) & 1
			if evenBit {
				mid := (lonMin + lonMax) / 2
				if bit == 1 {
					lonMin = mid
				} else {
					lonMax = mid
				}
			} else {
				mid := (latMin + latMax) / 2
				if bit == 1 {
					latMin = mid
				} else {
					latMax = mid
				}
			}
			evenBit = !evenBit
		}
	}
	return core.Box{MinLat: latMin, MaxLat: latMax, MinLon: lonMin, MaxLon: lonMax}, nil
}

// Decode returns the center of the cell covered by a key.
func Decode(key string) (core.Position, error) {
	b, err := Bounds(key)
	if err != nil {
		return core.Position{}, err
	}
	return core.Position{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lon: (b.MinLon + b.MaxLon) / 2,
	}, nil
}

// CellSize returns the latitude and longitude extent in degrees of a cell
// at the given precision.
func CellSize(precision int) (latDeg, lonDeg float64) {
	if precision <= 0 || precision > MaxPrecision {
		precision = MaxPrecision
	}
	bits := 5 * precision
	lonBits := (bits + 1) / 2
	latBits := bits / 2
	return 180.0 / float64(uint64(1)<<latBits), 360.0 / float64(uint64(1)<<lonBits)
}

// Neighbors returns the up-to-eight adjacent cells at the same precision.
// Cells beyond the poles are omitted; longitude wraps.
func Neighbors(key string) ([]string, error) {
	b, err := Bounds(key)
	if err != nil {
		return nil, err
	}
	latStep := b.MaxLat - b.MinLat
	lonStep := b.MaxLon - b.MinLon
	centerLat := (b.MinLat + b.MaxLat) / 2
	centerLon := (b.MinLon + b.MaxLon) / 2

	var out []string
	for _, dlat := range []float64{-latStep, 0, latStep} {
		for _, dlon := range []float64{-lonStep, 0, lonStep} {
			if dlat == 0 && dlon == 0 {
				continue
			}
			lat := centerLat + dlat
			if lat <= -90 || lat >= 90 {
				continue
			}
			lon := centerLon + dlon
			if lon < -180 {
				lon += 360
			} else if lon >= 180 {
				lon -= 360
			}
			out = append(out, Encode(lat, lon, len(key)))
		}
	}
	return out, nil
}

// IsAncestor reports whether key a covers key b (a is a prefix of b).
// A key covers itself.
func IsAncestor(a, b string) bool {
	return strings.HasPrefix(b, a)
}
