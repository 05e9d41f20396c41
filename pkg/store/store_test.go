package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/itohio/gotdr/pkg/acquire"
	"github.com/itohio/gotdr/pkg/protocol"
	"github.com/itohio/gotdr/pkg/ramp"
	"github.com/itohio/gotdr/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "traces.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleBatch(t *testing.T) (protocol.Header, []acquire.Trace) {
	t.Helper()
	ts, err := settings.New(map[string]any{
		"npoints":    3,
		"ramp_model": ramp.Model{A: 60075, RC: 16510},
	})
	require.NoError(t, err)

	header := protocol.Header{"*IDN?": "EOI,TDR01,7,1.0", "POINTS?": "3"}
	rxdac := []int{1, 2, 3}
	return header, []acquire.Trace{
		{Settings: ts, RXDAC: rxdac, Data: []int{10, 11, 12}},
		{Settings: ts, RXDAC: rxdac, Data: []int{20, 21, 22}},
	}
}

func TestStore_SaveLoad(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	header, traces := sampleBatch(t)

	id, err := s.SaveBatch(ctx, header, traces)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	b, err := s.LoadBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, b.ID)
	assert.NotEmpty(t, b.UID)
	assert.Equal(t, "EOI,TDR01,7,1.0", b.IDN)
	assert.Equal(t, 3, b.NPoints)
	assert.Equal(t, 2, b.Count)
	assert.Equal(t, header, b.Header)
	require.Len(t, b.Traces, 2)
	for i := range traces {
		assert.Equal(t, traces[i].Settings, b.Traces[i].Settings)
		assert.Equal(t, traces[i].RXDAC, b.Traces[i].RXDAC)
		assert.Equal(t, traces[i].Data, b.Traces[i].Data)
	}
}

func TestStore_List(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	header, traces := sampleBatch(t)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 3; i++ {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		id, err := s.SaveBatch(ctx, header, traces[:1])
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.ListBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[2].ID)
	assert.True(t, base.Equal(all[2].CreatedAt))

	limited, err := s.ListBatches(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	uids := map[string]bool{}
	for _, b := range all {
		uids[b.UID] = true
	}
	assert.Len(t, uids, 3, "uids are unique")
}

func TestStore_ListSubSecondOrder(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	header, traces := sampleBatch(t)

	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{
		0,
		100 * time.Millisecond,
		500 * time.Millisecond,
		520 * time.Millisecond,
		time.Second,
	}
	var ids []int64
	for _, off := range offsets {
		at := base.Add(off)
		s.now = func() time.Time { return at }
		id, err := s.SaveBatch(ctx, header, traces[:1])
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := s.ListBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, len(ids))
	for i, b := range list {
		assert.Equal(t, ids[len(ids)-1-i], b.ID, "position %d", i)
		assert.True(t, base.Add(offsets[len(ids)-1-i]).Equal(b.CreatedAt), "position %d", i)
	}
}

func TestStore_Errors(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, protocol.Header{}, nil)
	assert.Error(t, err)

	_, err = s.LoadBatch(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteBatch(ctx, 42), ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	header, traces := sampleBatch(t)

	id, err := s.SaveBatch(ctx, header, traces)
	require.NoError(t, err)
	require.NoError(t, s.DeleteBatch(ctx, id))

	_, err = s.LoadBatch(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListBatches(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.db")
	ctx := context.Background()
	header, traces := sampleBatch(t)

	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.SaveBatch(ctx, header, traces)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	b, err := s.LoadBatch(ctx, id)
	require.NoError(t, err)
	assert.Len(t, b.Traces, 2)
}
