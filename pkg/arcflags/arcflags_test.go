package arcflags_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/ch_router/pkg/arcflags"
	"github.com/azybler/ch_router/pkg/graph/graphtest"
	"github.com/azybler/ch_router/pkg/search"
)

var quiet = slog.New(slog.DiscardHandler)

// Line(4) edge ids: 0:0->1 1:1->0 2:1->2 3:2->1 4:2->3 5:3->2.
func TestComputeLineForward(t *testing.T) {
	g := graphtest.Line(4)
	cells := []uint32{0, 0, 1, 1}

	f, err := arcflags.Compute(context.Background(), g, cells, search.Forward, arcflags.WithLogger(quiet))
	require.NoError(t, err)
	require.Equal(t, 2, f.NumCells())

	if diff := cmp.Diff([]uint32{0, 1, 3, 5}, f.Flagged(0).ToArray()); diff != "" {
		t.Errorf("cell 0 flags (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{0, 2, 4, 5}, f.Flagged(1).ToArray()); diff != "" {
		t.Errorf("cell 1 flags (-want +got):\n%s", diff)
	}

	assert.True(t, f.Prune(1, 3), "1->0 never leads into cell 1")
	assert.False(t, f.Prune(0, 3))
	assert.False(t, f.Prune(1, 0))
}

func TestComputeLineBackward(t *testing.T) {
	g := graphtest.Line(4)
	cells := []uint32{0, 0, 1, 1}

	f, err := arcflags.Compute(context.Background(), g, cells, search.Backward,
		arcflags.WithLogger(quiet), arcflags.WithWorkers(1))
	require.NoError(t, err)

	// Leaving cell 0 means walking right from 1.
	if diff := cmp.Diff([]uint32{0, 1, 2, 4}, f.Flagged(0).ToArray()); diff != "" {
		t.Errorf("cell 0 flags (-want +got):\n%s", diff)
	}
	assert.Equal(t, search.Backward, f.Direction())
}

func TestComputeRejectsShortPartition(t *testing.T) {
	_, err := arcflags.Compute(context.Background(), graphtest.Line(3), []uint32{0}, search.Forward)
	assert.ErrorIs(t, err, arcflags.ErrCellCount)
}

func TestFileRoundTrip(t *testing.T) {
	g := graphtest.Line(6)
	cells := []uint32{0, 0, 1, 1, 2, 2}
	f, err := arcflags.Compute(context.Background(), g, cells, search.Forward, arcflags.WithLogger(quiet))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.flags")
	require.NoError(t, arcflags.WriteFile(path, f))
	loaded, err := arcflags.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, f.Direction(), loaded.Direction())
	assert.Equal(t, uint32(6), loaded.NumNodes())
	require.Equal(t, f.NumCells(), loaded.NumCells())
	for c := 0; c < f.NumCells(); c++ {
		assert.Equal(t, f.Flagged(uint32(c)).ToArray(), loaded.Flagged(uint32(c)).ToArray())
	}
	for e := uint32(0); e < g.NumEdges; e++ {
		for v := uint32(0); v < g.NumNodes; v++ {
			assert.Equal(t, f.Prune(e, v), loaded.Prune(e, v))
		}
	}
}
