package transform

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

func makeRecords(n int) []*record.Record {
	recs := make([]*record.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, record.New().
			Set("id", int64(i)).
			Set("name", fmt.Sprintf("  Person %d  ", i)))
	}
	return recs
}

func TestPipelineSequential(t *testing.T) {
	ctx := newTestContext(t)
	tp := NewPipeline("tp", "cleanup", nil, nil).
		AddStage(&Stage{
			ID:              "s1",
			Name:            "normalise",
			Transformations: []Transformation{Trim("trim", "name"), Lowercase("lower", "name")},
			Strategy:        StrategySequential,
		})

	result, err := tp.Execute(makeRecords(5), ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Records, 5)
	for i, rec := range result.Records {
		v, _ := rec.Get("name")
		assert.Equal(t, fmt.Sprintf("person %d", i), v, "sequential execution preserves order")
	}
}

func TestPipelineStageChaining(t *testing.T) {
	ctx := newTestContext(t)
	dropOdd := NewRecordTransformation("drop-odd", "drop odd ids", func(rec *record.Record, _ *pipeline.ExecutionContext) ([]*record.Record, error) {
		id, err := rec.Int("id")
		if err != nil {
			return nil, err
		}
		if id%2 == 1 {
			return nil, nil
		}
		return []*record.Record{rec}, nil
	})

	tp := NewPipeline("tp", "chain", nil, nil).
		AddStage(&Stage{ID: "s1", Name: "filter", Transformations: []Transformation{dropOdd}}).
		AddStage(&Stage{ID: "s2", Name: "clean", Transformations: []Transformation{Trim("trim", "name")}})

	result, err := tp.Execute(makeRecords(6), ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.RecordsDropped)
	require.Len(t, result.Records, 3)
	for _, rec := range result.Records {
		v, _ := rec.Get("name")
		assert.False(t, strings.HasPrefix(v.(string), " "), "second stage saw first stage output")
	}
}

func TestPipelineShortCircuit(t *testing.T) {
	ctx := newTestContext(t)
	dropAll := NewRecordTransformation("drop-all", "drop everything", func(*record.Record, *pipeline.ExecutionContext) ([]*record.Record, error) {
		return nil, nil
	})
	ran := false
	witness := NewRecordTransformation("witness", "witness", func(rec *record.Record, _ *pipeline.ExecutionContext) ([]*record.Record, error) {
		ran = true
		return []*record.Record{rec}, nil
	})

	tp := NewPipeline("tp", "short", nil, nil).
		AddStage(&Stage{ID: "s1", Name: "sieve", Transformations: []Transformation{dropAll}}).
		AddStage(&Stage{ID: "s2", Name: "later", Transformations: []Transformation{witness}})

	result, err := tp.Execute(makeRecords(3), ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.ShortCircuited)
	assert.False(t, ran, "stages after an empty record set must not run")
	assert.Len(t, result.Stages, 1)
	assert.NotEmpty(t, ctx.Warnings())
}

func TestPipelineStageFailure(t *testing.T) {
	boom := Trim("trim", "absent")

	t.Run("terminates without continue-on-error", func(t *testing.T) {
		ctx := newTestContext(t)
		ran := false
		witness := NewRecordTransformation("witness", "witness", func(rec *record.Record, _ *pipeline.ExecutionContext) ([]*record.Record, error) {
			ran = true
			return []*record.Record{rec}, nil
		})
		tp := NewPipeline("tp", "strict", nil, nil).
			AddStage(&Stage{ID: "s1", Name: "broken", Transformations: []Transformation{boom}}).
			AddStage(&Stage{ID: "s2", Name: "later", Transformations: []Transformation{witness}})

		result, err := tp.Execute(makeRecords(2), ctx)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.False(t, ran)
		require.Len(t, result.Stages, 1)
		assert.True(t, result.Stages[0].Failed)
		assert.NotEmpty(t, result.Stages[0].FailureReason)
		assert.Equal(t, 2, result.RecordsFailed)
	})

	t.Run("continues when configured", func(t *testing.T) {
		ctx := newTestContext(t)
		partial := NewRecordTransformation("half", "fail odd ids", func(rec *record.Record, _ *pipeline.ExecutionContext) ([]*record.Record, error) {
			id, _ := rec.Int("id")
			if id%2 == 1 {
				return nil, fmt.Errorf("record %d rejected", id)
			}
			return []*record.Record{rec}, nil
		})
		tp := NewPipeline("tp", "lenient", nil, nil).
			AddStage(&Stage{ID: "s1", Name: "flaky", Transformations: []Transformation{partial}, ContinueOnError: true}).
			AddStage(&Stage{ID: "s2", Name: "clean", Transformations: []Transformation{Trim("trim", "name")}})

		result, err := tp.Execute(makeRecords(4), ctx)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.RecordsFailed)
		assert.Len(t, result.Records, 2)
	})
}

func TestPipelineParallel(t *testing.T) {
	const n = 1000
	ctx := newTestContext(t)
	tp := NewPipeline("tp", "wide", nil, nil).
		AddStage(&Stage{
			ID:              "s1",
			Name:            "normalise",
			Transformations: []Transformation{Trim("trim", "name"), Lowercase("lower", "name")},
			Strategy:        StrategyParallel,
			Parallelism:     4,
		})

	result, err := tp.Execute(makeRecords(n), ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Records, n)

	// Order across partitions is unspecified; compare as a multiset.
	seen := make(map[int64]string, n)
	for _, rec := range result.Records {
		id, err := rec.Int("id")
		require.NoError(t, err)
		name, _ := rec.String("name")
		seen[id] = name
	}
	require.Len(t, seen, n)
	for i := int64(0); i < n; i++ {
		assert.Equal(t, fmt.Sprintf("person %d", i), seen[i])
	}
	assert.Equal(t, int64(n), ctx.Stats().Snapshot().RecordsProcessed)
}

func TestPipelineParallelFallsBackForStatefulTransforms(t *testing.T) {
	ctx := newTestContext(t)
	agg := NewAggregateTransformation("count", "count window", 4, AggCount, "", "n")
	tp := NewPipeline("tp", "agg", nil, nil).
		AddStage(&Stage{
			ID:              "s1",
			Name:            "window",
			Transformations: []Transformation{agg},
			Strategy:        StrategyParallel,
		})

	result, err := tp.Execute(makeRecords(10), ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)

	// 10 records through a window of 4: two full windows plus a flushed
	// partial of 2.
	require.Len(t, result.Records, 3)
	counts := make([]int64, 0, 3)
	for _, rec := range result.Records {
		n, err := rec.Int("n")
		require.NoError(t, err)
		counts = append(counts, n)
	}
	assert.ElementsMatch(t, []int64{4, 4, 2}, counts)
}

func TestPipelineBatchStrategy(t *testing.T) {
	ctx := newTestContext(t)
	tp := NewPipeline("tp", "batched", nil, nil).
		AddStage(&Stage{
			ID:              "s1",
			Name:            "normalise",
			Transformations: []Transformation{Trim("trim", "name")},
			Strategy:        StrategyBatch,
			BatchSize:       3,
		})

	result, err := tp.Execute(makeRecords(8), ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Records, 8)

	t.Run("oversized batch runs as one chunk", func(t *testing.T) {
		ctx := newTestContext(t)
		tp := NewPipeline("tp", "one-chunk", nil, nil).
			AddStage(&Stage{
				ID:              "s1",
				Name:            "normalise",
				Transformations: []Transformation{Trim("trim", "name")},
				Strategy:        StrategyBatch,
				BatchSize:       100,
			})
		result, err := tp.Execute(makeRecords(5), ctx)
		require.NoError(t, err)
		assert.Len(t, result.Records, 5)
	})
}

func TestPipelineValidationFailureAborts(t *testing.T) {
	ctx := newTestContext(t)
	tp := NewPipeline("tp", "invalid", nil, nil).
		AddStage(&Stage{ID: "s1", Name: "bad", Transformations: []Transformation{
			NewFieldTransformation("x", "x", "", "", nil),
		}})

	_, err := tp.Execute(makeRecords(1), ctx)
	require.Error(t, err)
}

func TestPipelineEmptyInput(t *testing.T) {
	ctx := newTestContext(t)
	tp := NewPipeline("tp", "empty", nil, nil).
		AddStage(&Stage{ID: "s1", Name: "clean", Transformations: []Transformation{Trim("trim", "name")}})

	result, err := tp.Execute(nil, ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Records)
}
