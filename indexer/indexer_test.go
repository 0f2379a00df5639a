package indexer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"datalayr/core/events"
	"datalayr/core/types"
	"datalayr/observability/logging"
)

func envelope(height, seq uint64, typ string, attrs map[string]string) events.Envelope {
	return events.Envelope{Height: height, Seq: seq, Type: typ, Payload: &types.Event{Type: typ, Attributes: attrs}}
}

func openTemp(t *testing.T) (*Indexer, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "events.db")
	idx, err := Open(dsn, logging.Discard())
	require.NoError(t, err)
	return idx, dsn
}

func TestStoreAndQuery(t *testing.T) {
	idx, _ := openTemp(t)
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Store(ctx,
		envelope(2, 0, "datastore.initialized", map[string]string{"dumpNumber": "1"}),
		envelope(2, 1, "datastore.confirmed", map[string]string{"dumpNumber": "1"}),
		envelope(3, 0, "dispute.paymentCommitted", nil),
	))

	all, err := idx.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "datastore.initialized", all[0].Type)
	require.Equal(t, "dispute", all[2].Module)

	attrs, err := all[1].Attrs()
	require.NoError(t, err)
	require.Equal(t, "1", attrs["dumpNumber"])

	onlyDataStore, err := idx.Query(ctx, Filter{Module: "datastore", Limit: 1})
	require.NoError(t, err)
	require.Len(t, onlyDataStore, 1)

	fromThree, err := idx.Query(ctx, Filter{FromHeight: 3})
	require.NoError(t, err)
	require.Len(t, fromThree, 1)

	byType, err := idx.Query(ctx, Filter{Type: "datastore.confirmed", ToHeight: 2})
	require.NoError(t, err)
	require.Len(t, byType, 1)
}

func TestStoreReplacesReplayedPositions(t *testing.T) {
	idx, _ := openTemp(t)
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Store(ctx, envelope(5, 0, "payout.created", nil)))
	require.NoError(t, idx.Store(ctx, envelope(5, 0, "payout.claimed", nil)))

	got, err := idx.Query(ctx, Filter{FromHeight: 5, ToHeight: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "payout.claimed", got[0].Type)
}

func TestEmitFlushesOnClose(t *testing.T) {
	idx, dsn := openTemp(t)
	idx.Emit(envelope(2, 0, "registry.stakeUpdated", nil))
	idx.Emit(envelope(2, 1, "registry.stakeUpdated", nil))
	require.NoError(t, idx.Close())
	require.ErrorIs(t, idx.Close(), ErrClosed)
	idx.Emit(envelope(9, 0, "ignored.afterClose", nil))

	reopened, err := Open(dsn, logging.Discard())
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Query(context.Background(), Filter{Module: "registry"})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestExportParquet(t *testing.T) {
	idx, _ := openTemp(t)
	defer idx.Close()
	ctx := context.Background()
	require.NoError(t, idx.Store(ctx,
		envelope(2, 0, "datastore.initialized", map[string]string{"dumpNumber": "1"}),
		envelope(2, 1, "payout.created", nil),
	))

	path := filepath.Join(t.TempDir(), "events.parquet")
	n, err := idx.ExportParquet(ctx, path, Filter{Module: "datastore"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(1), pr.GetNumRows())

	rows := make([]parquetRow, 1)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "datastore.initialized", rows[0].Type)
	require.Equal(t, int64(2), rows[0].Height)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ", nil)
	require.Error(t, err)
	require.Equal(t, "sqlite", dialector("file.db").Name())
	require.Equal(t, "postgres", dialector("postgres://dl@localhost/events").Name())
}
