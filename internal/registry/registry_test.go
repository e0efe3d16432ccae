package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastwise/swath/pkg/core"
)

func interval(startHour, endHour int) core.TimeRange {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return core.TimeRange{Start: day.Add(time.Duration(startHour) * time.Hour), End: day.Add(time.Duration(endHour) * time.Hour)}
}

func TestRegistry_AddAndActiveAt(t *testing.T) {
	r := New(nil)

	e, err := r.Add(Entry{
		Kind:        core.SourceVessel,
		Serial:      "40111",
		Identifier:  "vessel_file.yaml",
		Interval:    interval(0, 24),
		Fingerprint: Fingerprint([]byte("v1")),
	})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)

	got, ok := r.ActiveAt(core.SourceVessel, "40111", interval(0, 24).Start.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, e.ID, got.ID)

	// Different serial does not match.
	_, ok = r.ActiveAt(core.SourceVessel, "99999", interval(0, 24).Start.Add(time.Hour))
	assert.False(t, ok)

	// Outside the interval does not match.
	_, ok = r.ActiveAt(core.SourceVessel, "40111", interval(0, 24).End.Add(time.Hour))
	assert.False(t, ok)
}

func TestRegistry_Validation(t *testing.T) {
	r := New(nil)

	_, err := r.Add(Entry{Serial: "1", Interval: interval(0, 1)})
	assert.Error(t, err, "missing kind")

	_, err = r.Add(Entry{Kind: core.SourceSVP, Interval: interval(5, 5)})
	assert.Error(t, err, "empty interval")
}

func TestRegistry_SupersedeKeepsHistory(t *testing.T) {
	r := New(nil)

	first, err := r.Add(Entry{
		Kind: core.SourceVessel, Serial: "40111", Identifier: "vessel_file.yaml",
		Interval: interval(0, 24), Fingerprint: "aaa",
		CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	second, err := r.Add(Entry{
		Kind: core.SourceVessel, Serial: "40111", Identifier: "vessel_file.yaml",
		Interval: interval(0, 24), Fingerprint: "bbb",
		CreatedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// Both entries remain for audit, only the newest is active.
	assert.Equal(t, 2, r.Len())
	all := r.All()
	assert.True(t, all[0].Superseded)
	assert.False(t, all[1].Superseded)

	active, ok := r.ActiveAt(core.SourceVessel, "40111", interval(0, 24).Start)
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)
	_ = first
}

// Scenario: two entries for the same vessel serial with overlapping time
// ranges and differing fingerprints conflict and leave the log untouched.
func TestRegistry_OverlapConflict(t *testing.T) {
	r := New(nil)

	_, err := r.Add(Entry{
		Kind: core.SourceVessel, Serial: "40111", Identifier: "vessel_a.yaml",
		Interval: interval(0, 12), Fingerprint: "aaa",
	})
	require.NoError(t, err)

	_, err = r.Add(Entry{
		Kind: core.SourceVessel, Serial: "40111", Identifier: "vessel_b.yaml",
		Interval: interval(6, 18), Fingerprint: "bbb",
	})
	require.Error(t, err)

	var conflict *core.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, core.SourceVessel, conflict.Kind)
	assert.Equal(t, "40111", conflict.Serial)

	// The failed add must not have appended.
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_NoConflictWhenDisjoint(t *testing.T) {
	r := New(nil)

	_, err := r.Add(Entry{
		Kind: core.SourceSVP, Serial: "40111", Identifier: "cast_morning.yaml",
		Interval: interval(0, 6), Fingerprint: "aaa",
	})
	require.NoError(t, err)

	// Disjoint interval, different identifier: fine.
	_, err = r.Add(Entry{
		Kind: core.SourceSVP, Serial: "40111", Identifier: "cast_evening.yaml",
		Interval: interval(6, 12), Fingerprint: "bbb",
	})
	assert.NoError(t, err)

	// Same fingerprint overlapping: duplicate import, not a conflict.
	_, err = r.Add(Entry{
		Kind: core.SourceSVP, Serial: "40111", Identifier: "cast_morning_copy.yaml",
		Interval: interval(0, 6), Fingerprint: "aaa",
	})
	assert.NoError(t, err)
}

func TestRegistry_Matching(t *testing.T) {
	r := New(nil)

	_, err := r.Add(Entry{
		Kind: core.SourceVessel, Serial: "40111", Identifier: "vessel_file.yaml",
		Interval: interval(0, 24), Fingerprint: "aaa",
	})
	require.NoError(t, err)
	// Serial-less navigation entry applies to every container.
	_, err = r.Add(Entry{
		Kind: core.SourceNavigation, Identifier: "sbet_001.yaml",
		Interval: interval(2, 4), Fingerprint: "bbb",
	})
	require.NoError(t, err)
	_, err = r.Add(Entry{
		Kind: core.SourceVessel, Serial: "99999", Identifier: "other_vessel.yaml",
		Interval: interval(0, 24), Fingerprint: "ccc",
	})
	require.NoError(t, err)

	matched := r.Matching("40111", interval(1, 3))
	require.Len(t, matched, 2)
	kinds := map[core.SourceKind]bool{}
	for _, e := range matched {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[core.SourceVessel])
	assert.True(t, kinds[core.SourceNavigation])

	// A line outside the navigation window only matches the vessel entry.
	matched = r.Matching("40111", interval(10, 12))
	require.Len(t, matched, 1)
	assert.Equal(t, core.SourceVessel, matched[0].Kind)
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint([]byte("content"))
	b := Fingerprint([]byte("content"))
	c := Fingerprint([]byte("other"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
