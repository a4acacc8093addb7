package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdcount/zonecount/internal/analytics"
)

func openTemp(t *testing.T) (*Archive, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	a, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, path
}

func entry(seq uint64, total int, zones map[int]int) analytics.HistoryEntry {
	return analytics.HistoryEntry{
		Seq:   seq,
		Time:  time.UnixMilli(1_700_000_000_000 + int64(seq)*1000),
		Total: total,
		Zones: zones,
	}
}

func TestAppendSkipsArchivedEntries(t *testing.T) {
	a, _ := openTemp(t)
	ctx := context.Background()

	n, err := a.Append(ctx, []analytics.HistoryEntry{entry(1, 2, map[int]int{1: 2}), entry(2, 3, map[int]int{1: 3})})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = a.Append(ctx, []analytics.HistoryEntry{entry(2, 3, map[int]int{1: 3}), entry(3, 5, map[int]int{1: 3, 2: 2})})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "seq 2 was already archived")
	assert.Equal(t, uint64(3), a.Written())

	recs, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(1), recs[0].Seq)
	if diff := cmp.Diff(map[int]int{1: 3, 2: 2}, recs[2].Zones); diff != "" {
		t.Errorf("zones mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, a.RunID(), recs[2].RunID)
	assert.True(t, recs[2].Time.Equal(entry(3, 0, nil).Time))
}

func TestRecentLimitKeepsNewest(t *testing.T) {
	a, _ := openTemp(t)
	ctx := context.Background()
	var batch []analytics.HistoryEntry
	for i := uint64(1); i <= 6; i++ {
		batch = append(batch, entry(i, int(i), map[int]int{}))
	}
	_, err := a.Append(ctx, batch)
	require.NoError(t, err)

	recs, err := a.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []uint64{5, 6}, []uint64{recs[0].Seq, recs[1].Seq})
}

func TestReopenKeepsEarlierRuns(t *testing.T) {
	a, path := openTemp(t)
	ctx := context.Background()
	_, err := a.Append(ctx, []analytics.HistoryEntry{entry(1, 1, nil)})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()
	assert.NotEqual(t, a.RunID(), b.RunID())

	// a new process restarts sequence numbers at 1
	_, err = b.Append(ctx, []analytics.HistoryEntry{entry(1, 9, nil)})
	require.NoError(t, err)

	recs, err := b.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Total)
	assert.Equal(t, 9, recs[1].Total)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	a, _ := openTemp(t)
	st := analytics.New(0)
	gen := st.BeginGeneration()
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Publish(gen, analytics.Frame{Counts: map[int]int{1: i}, Total: i}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, st, time.Hour, nil)
		close(done)
	}()
	cancel()
	<-done

	assert.Equal(t, uint64(3), a.Written())
}

func TestRunReportsFlushErrors(t *testing.T) {
	a, _ := openTemp(t)
	require.NoError(t, a.Close())

	st := analytics.New(0)
	require.NoError(t, st.Publish(st.BeginGeneration(), analytics.Frame{Total: 1}))

	var got error
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx, st, time.Hour, func(err error) { got = err })
	require.Error(t, got)
	assert.False(t, errors.Is(got, context.Canceled))
}

func TestMigrationsApplyOnce(t *testing.T) {
	a, path := openTemp(t)

	version, dirty, err := schemaVersion(a.db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// reopening finds nothing to migrate
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()
	version, _, err = schemaVersion(b.db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}
