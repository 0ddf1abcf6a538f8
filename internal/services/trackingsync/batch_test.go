package trackingsync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/stretchr/testify/require"
)

func TestRefreshBatch_BoundedConcurrencyAndOrder(t *testing.T) {
	b := NewBatcher(2)

	var cur, peak atomic.Int64
	refs := []models.OrderRef{models.ByID("a"), models.ByID("b"), models.ByNumber("1003"), models.ByID("d"), models.ByID("e")}

	items := RefreshBatch(context.Background(), b, refs, func(ctx context.Context, ref models.OrderRef) (string, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		cur.Add(-1)
		if ref.Value == "d" {
			return "", errors.New("carrier down")
		}
		return "ok:" + ref.Value, nil
	})

	require.Len(t, items, 5)
	require.LessOrEqual(t, peak.Load(), int64(2))
	require.Equal(t, "ok:a", items[0].Value)
	require.Equal(t, "ok:1003", items[2].Value)
	require.Error(t, items[3].Err)
	require.NoError(t, items[4].Err)

	st := b.Stats()
	require.Equal(t, int64(1), st.TotalBatches)
	require.Equal(t, int64(5), st.TotalProcessed)
	require.Equal(t, int64(1), st.TotalErrors)
	require.Equal(t, "carrier down", st.LastError)
	require.NotNil(t, st.LastBatchAt)
	require.Zero(t, st.InFlight)
}

func TestRefreshBatch_CancelledContextSkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	items := RefreshBatch(ctx, NewBatcher(0), []models.OrderRef{models.ByID("a")}, func(context.Context, models.OrderRef) (int, error) {
		calls++
		return 1, nil
	})
	require.Zero(t, calls)
	require.ErrorIs(t, items[0].Err, context.Canceled)
}
