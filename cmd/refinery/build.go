package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/refinery-etl/refinery/internal/config"
	"github.com/refinery-etl/refinery/internal/connector"
	"github.com/refinery-etl/refinery/internal/logger"
	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
	"github.com/refinery-etl/refinery/internal/transform"
)

func newLogger(verbose bool) (*logger.Logger, error) {
	level := "info"
	if verbose {
		level = "debug"
	}
	return logger.New(logger.Options{Level: level, HumanReadable: true})
}

// loadRecords reads a YAML document holding a list of field maps.
func loadRecords(path string) ([]*record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}
	var rows []map[string]any
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse input %s: %w", path, err)
	}
	recs := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, record.FromMap(row))
	}
	return recs, nil
}

// buildPipeline maps a pipeline document onto runtime stages. Extract stages
// read the supplied records, load stages write into the returned destination.
func buildPipeline(doc config.Pipeline, input []*record.Record, log *logger.Logger) (*pipeline.Pipeline, *connector.MemoryDestination, error) {
	p := pipeline.New(doc.ID, doc.Name)
	p.SetDescription(doc.Description)
	dest := connector.NewMemoryDestination(doc.ID + "-output")

	for _, sc := range doc.Stages {
		var stage pipeline.Stage
		switch sc.Type {
		case "extract":
			source := connector.NewMemorySource(sc.ID+"-input", input...)
			stage = connector.NewExtractStage(sc.ID, sc.Name, sc.Order, source)
		case "transform":
			tp := transform.NewPipeline(sc.ID, sc.Name, nil, log)
			tp.AddStage(&transform.Stage{
				ID:              sc.ID,
				Name:            sc.Name,
				Strategy:        transform.Strategy(sc.Strategy),
				ContinueOnError: sc.ContinueOnError,
				Parallelism:     sc.Parallelism,
				BatchSize:       sc.BatchSize,
			})
			stage = connector.NewTransformStage(sc.ID, sc.Name, sc.Order, tp)
		case "load":
			load := connector.NewLoadStage(sc.ID, sc.Name, sc.Order, dest)
			load.BatchSize = sc.BatchSize
			stage = load
		default:
			stage = pipeline.NewFuncStage(sc.ID, sc.Name, pipeline.StageTypeCustom, sc.Order,
				func(ctx *pipeline.ExecutionContext) (int64, error) {
					recs, _ := ctx.CurrentData().([]*record.Record)
					return int64(len(recs)), nil
				})
		}
		if err := p.AddStage(stage); err != nil {
			return nil, nil, err
		}
	}
	return p, dest, nil
}

// writeRecords emits the destination contents as a YAML list of field maps.
func writeRecords(path string, recs []*record.Record) error {
	rows := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, rec.ToMap())
	}
	data, err := yaml.Marshal(rows)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
