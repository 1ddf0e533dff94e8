package transform

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

type recordingObserver struct {
	mu      sync.Mutex
	samples map[string]int
}

func (o *recordingObserver) Observe(id string, _ time.Duration, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.samples == nil {
		o.samples = make(map[string]int)
	}
	o.samples[id]++
}

func TestProcessorChaining(t *testing.T) {
	p := NewProcessor(nil)

	t.Run("output of one feeds the next", func(t *testing.T) {
		ctx := newTestContext(t)
		rec := record.New().Set("name", "  Ada Lovelace  ")
		res := p.ProcessRecord(rec, []Transformation{
			Trim("trim", "name"),
			Lowercase("lower", "name"),
			Replace("dash", "name", " ", "-"),
		}, ctx)

		require.True(t, res.Success)
		v, _ := res.Output.Get("name")
		assert.Equal(t, "ada-lovelace", v)
		assert.Equal(t, []string{"trim", "lower", "dash"}, res.AppliedTransforms)
		assert.Same(t, rec, res.Input, "input identity is preserved through the chain")
		assert.Equal(t, int64(3), res.FieldsAffected)

		stats := ctx.Stats().Snapshot()
		assert.Equal(t, int64(1), stats.RecordsProcessed)
		assert.Equal(t, int64(3), stats.FieldsProcessed)
	})

	t.Run("skip continues with the current record", func(t *testing.T) {
		ctx := newTestContext(t)
		missing := Trim("miss", "absent")
		missing.SkipMissing = true
		res := p.ProcessRecord(record.New().Set("name", " x "), []Transformation{
			missing,
			Trim("trim", "name"),
		}, ctx)

		require.True(t, res.Success)
		v, _ := res.Output.Get("name")
		assert.Equal(t, "x", v)
		assert.Equal(t, []string{"trim"}, res.AppliedTransforms)
	})

	t.Run("drop ends the chain and counts as skipped", func(t *testing.T) {
		ctx := newTestContext(t)
		drop := NewRecordTransformation("drop", "drop all", func(*record.Record, *pipeline.ExecutionContext) ([]*record.Record, error) {
			return nil, nil
		})
		res := p.ProcessRecord(record.New().Set("name", "x"), []Transformation{drop, Trim("trim", "name")}, ctx)

		assert.True(t, res.Dropped)
		assert.Equal(t, int64(1), ctx.Stats().Snapshot().RecordsSkipped)
		assert.Zero(t, ctx.Stats().Snapshot().RecordsProcessed)
	})

	t.Run("failure ends the chain and lands on the context", func(t *testing.T) {
		ctx := newTestContext(t)
		res := p.ProcessRecord(record.New(), []Transformation{Trim("trim", "absent")}, ctx)

		require.Len(t, res.Errors, 1)
		assert.Equal(t, 1, ctx.ErrorCount())
		assert.Equal(t, int64(1), ctx.Stats().Snapshot().RecordsFailed)
	})

	t.Run("panic is converted to a failure result", func(t *testing.T) {
		ctx := newTestContext(t)
		boom := NewRecordTransformation("boom", "boom", func(*record.Record, *pipeline.ExecutionContext) ([]*record.Record, error) {
			panic("kaboom")
		})
		res := p.ProcessRecord(record.New(), []Transformation{boom}, ctx)

		require.Len(t, res.Errors, 1)
		assert.Equal(t, CodeTransformException, res.Errors[0].Code)
		assert.Contains(t, res.Errors[0].Message, "kaboom")
	})

	t.Run("cancellation short-circuits", func(t *testing.T) {
		cctx, cancel := context.WithCancel(context.Background())
		ctx := pipeline.NewExecutionContext(cctx, "p", pipeline.Config{}, nil)
		cancel()

		res := p.ProcessRecord(record.New().Set("s", "a"), []Transformation{Trim("t", "s")}, ctx)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, CodeTransformCancelled, res.Errors[0].Code)
	})

	t.Run("observer sees every step", func(t *testing.T) {
		obs := &recordingObserver{}
		watched := &Processor{Observer: obs}
		ctx := newTestContext(t)

		recs := []*record.Record{record.New().Set("s", "a"), record.New().Set("s", "b")}
		watched.ProcessBatch(recs, []Transformation{Trim("t1", "s"), Lowercase("t2", "s")}, ctx)

		assert.Equal(t, 2, obs.samples["t1"])
		assert.Equal(t, 2, obs.samples["t2"])
	})
}

func TestProcessorEmptyChain(t *testing.T) {
	p := NewProcessor(nil)
	ctx := newTestContext(t)
	rec := record.New().Set("a", int64(1))
	res := p.ProcessRecord(rec, nil, ctx)

	require.True(t, res.Success)
	assert.False(t, res.Skipped)
	assert.Same(t, rec, res.Output)
}
