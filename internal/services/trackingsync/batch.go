package trackingsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
)

// Batcher runs caller-requested bulk refreshes with bounded concurrency and keeps counters.
type Batcher struct {
	concurrency int

	startedAtUnixNano int64
	lastBatchUnixNano atomic.Int64
	totalBatches      atomic.Int64
	totalProcessed    atomic.Int64
	totalErrors       atomic.Int64
	inFlight          atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func NewBatcher(concurrency int) *Batcher {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Batcher{
		concurrency:       concurrency,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

type BatchItem[T any] struct {
	Ref   models.OrderRef
	Value T
	Err   error
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastBatchAt    *time.Time `json:"lastBatchAt,omitempty"`
	TotalBatches   int64      `json:"totalBatches"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (b *Batcher) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, b.startedAtUnixNano).UTC(),
		TotalBatches:   b.totalBatches.Load(),
		TotalProcessed: b.totalProcessed.Load(),
		TotalErrors:    b.totalErrors.Load(),
		InFlight:       b.inFlight.Load(),
	}
	if n := b.lastBatchUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastBatchAt = &t
	}
	b.lastErrorMu.Lock()
	st.LastError = b.lastError
	b.lastErrorMu.Unlock()
	return st
}

// RefreshBatch calls fn for every ref, at most b.concurrency at a time.
// Items come back in the order of refs; one failure does not stop the others.
func RefreshBatch[T any](ctx context.Context, b *Batcher, refs []models.OrderRef, fn func(context.Context, models.OrderRef) (T, error)) []BatchItem[T] {
	b.totalBatches.Add(1)
	b.lastBatchUnixNano.Store(time.Now().UTC().UnixNano())

	out := make([]BatchItem[T], len(refs))
	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for i, ref := range refs {
		out[i].Ref = ref
		if err := ctx.Err(); err != nil {
			out[i].Err = err
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		b.inFlight.Add(1)
		i, ref := i, ref
		go func() {
			defer func() {
				b.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			v, err := fn(ctx, ref)
			out[i].Value, out[i].Err = v, err
			if err != nil {
				b.totalErrors.Add(1)
				b.lastErrorMu.Lock()
				b.lastError = err.Error()
				b.lastErrorMu.Unlock()
			}
			b.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
	return out
}
