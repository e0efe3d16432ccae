package transform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastwise/swath/pkg/core"
)

func TestUTMForward_KnownPoint(t *testing.T) {
	// CN Tower: 43.642567N 79.387139W is UTM 17N 630084E 4833438N.
	u, err := NewUTM(17, true, "MLLW")
	require.NoError(t, err)

	got, err := u.Forward(core.Position{Lat: 43.642567, Lon: -79.387139})
	require.NoError(t, err)
	assert.InDelta(t, 630084, got.Easting, 1.0)
	assert.InDelta(t, 4833438, got.Northing, 1.0)
}

func TestUTMForward_SouthernHemisphereFalseNorthing(t *testing.T) {
	u, err := NewUTM(56, false, "waterline")
	require.NoError(t, err)

	// Sydney Opera House, zone 56 south: the false northing keeps southern
	// coordinates positive.
	got, err := u.Forward(core.Position{Lat: -33.856944, Lon: 151.215278})
	require.NoError(t, err)
	assert.Greater(t, got.Northing, 6.2e6)
	assert.Less(t, got.Northing, 6.3e6)
	assert.InDelta(t, 335000, got.Easting, 2000.0)
}

func TestZoneFor(t *testing.T) {
	zone, north, ok := ZoneFor(core.Position{Lat: 43.6, Lon: -79.4})
	require.True(t, ok)
	assert.Equal(t, 17, zone)
	assert.True(t, north)

	zone, north, ok = ZoneFor(core.Position{Lat: -33.9, Lon: 151.2})
	require.True(t, ok)
	assert.Equal(t, 56, zone)
	assert.False(t, north)

	_, _, ok = ZoneFor(core.Position{Lat: 87, Lon: 0})
	assert.False(t, ok)
}

func TestNewUTMFor(t *testing.T) {
	u, err := NewUTMFor(core.Position{Lat: 43.6, Lon: -79.4}, "MLLW")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32617", u.TargetCRS())
	assert.Equal(t, 17, u.Zone())
}

func TestUnsupportedVerticalDatumRejected(t *testing.T) {
	_, err := NewUTM(17, true, "NAVD88")
	var terr *core.TransformError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "NAVD88", terr.VerticalRef)
	assert.Equal(t, "EPSG:32617", terr.TargetCRS)
}

func TestForwardOutsideCoverageRejected(t *testing.T) {
	u, err := NewUTM(33, true, "ellipse")
	require.NoError(t, err)

	_, err = u.Forward(core.Position{Lat: 86.5, Lon: 15})
	var terr *core.TransformError
	require.True(t, errors.As(err, &terr))
}

func TestZoneOutOfRange(t *testing.T) {
	_, err := NewUTM(0, true, "MLLW")
	assert.Error(t, err)
	_, err = NewUTM(61, true, "MLLW")
	assert.Error(t, err)
}
