package eviction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectVictims_LRU(t *testing.T) {
	lruOrder := []string{"/b", "/c", "/a"} // /a was most recently touched
	candidates := []Candidate{
		{Path: "/a", Size: 100},
		{Path: "/b", Size: 100},
		{Path: "/c", Size: 100},
	}

	victims := SelectVictims(LRU, candidates, lruOrder, nil, 100, nil)
	require.Equal(t, []string{"/b"}, victims)
}

func TestSelectVictims_ExcludesInFlightPath(t *testing.T) {
	lruOrder := []string{"/a", "/b"}
	candidates := []Candidate{
		{Path: "/a", Size: 100},
		{Path: "/b", Size: 100},
	}
	excluded := map[string]struct{}{"/a": {}}

	victims := SelectVictims(LRU, candidates, lruOrder, nil, 100, excluded)
	require.Equal(t, []string{"/b"}, victims, "excluding /a")
}

func TestSelectVictims_AllExcluded_ReturnsEmpty(t *testing.T) {
	lruOrder := []string{"/a"}
	candidates := []Candidate{{Path: "/a", Size: 100}}
	excluded := map[string]struct{}{"/a": {}}

	victims := SelectVictims(LRU, candidates, lruOrder, nil, 50, excluded)
	assert.Empty(t, victims, "store full of pinned content")
}

func TestSelectVictims_LFU(t *testing.T) {
	now := time.Now()
	access := map[string]AccessInfo{
		"/a": {Count: 5, LastAccess: now},
		"/b": {Count: 1, LastAccess: now},
		"/c": {Count: 3, LastAccess: now},
	}
	candidates := []Candidate{
		{Path: "/a", Size: 10},
		{Path: "/b", Size: 10},
		{Path: "/c", Size: 10},
	}

	victims := SelectVictims(LFU, candidates, nil, access, 10, nil)
	require.Equal(t, []string{"/b"}, victims, "lowest access count")
}

func TestSelectVictims_FIFO(t *testing.T) {
	base := time.Now()
	candidates := []Candidate{
		{Path: "/newest", Size: 10, CreatedAt: base.Add(2 * time.Second)},
		{Path: "/oldest", Size: 10, CreatedAt: base},
		{Path: "/middle", Size: 10, CreatedAt: base.Add(time.Second)},
	}

	victims := SelectVictims(FIFO, candidates, nil, nil, 10, nil)
	require.Equal(t, []string{"/oldest"}, victims)
}

func TestSelectVictims_SizeWeighted(t *testing.T) {
	candidates := []Candidate{
		{Path: "/small", Size: 10},
		{Path: "/big", Size: 1000},
		{Path: "/medium", Size: 100},
	}

	victims := SelectVictims(SizeWeighted, candidates, nil, nil, 500, nil)
	require.Equal(t, []string{"/big"}, victims)
}

func TestSelectVictims_AccumulatesUntilTarget(t *testing.T) {
	base := time.Now()
	candidates := []Candidate{
		{Path: "/a", Size: 50, CreatedAt: base},
		{Path: "/b", Size: 50, CreatedAt: base.Add(time.Second)},
		{Path: "/c", Size: 50, CreatedAt: base.Add(2 * time.Second)},
	}

	victims := SelectVictims(FIFO, candidates, nil, nil, 75, nil)
	assert.Len(t, victims, 2, "want 2 entries to satisfy target of 75")
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{
		"LRU":           LRU,
		"LFU":           LFU,
		"FIFO":          FIFO,
		"size-weighted": SizeWeighted,
	}
	for s, want := range cases {
		got, ok := ParsePolicy(s)
		assert.Truef(t, ok, "ParsePolicy(%q) should succeed", s)
		assert.Equalf(t, want, got, "ParsePolicy(%q)", s)
	}

	_, ok := ParsePolicy("bogus")
	assert.False(t, ok, "expected ParsePolicy to reject unknown policy strings")
}
