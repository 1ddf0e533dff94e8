package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/refinery-etl/refinery/internal/config"
	"github.com/refinery-etl/refinery/internal/orchestrator"
	"github.com/refinery-etl/refinery/internal/record"
)

type runFlags struct {
	input    string
	output   string
	pipeline string
	timeout  time.Duration
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Execute the configured pipelines once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, args[0], root, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "YAML file with input records for extract stages")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "YAML file to receive loaded records")
	cmd.Flags().StringVarP(&flags.pipeline, "pipeline", "p", "", "Run only the pipeline with this id")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Abort the run after this duration")

	return cmd
}

func runOnce(cmd *cobra.Command, path string, root *rootFlags, flags *runFlags) error {
	log, err := newLogger(root.verbose)
	if err != nil {
		return err
	}

	cfg, err := config.ParseConfig(path)
	if err != nil {
		return err
	}

	var input []*record.Record
	if flags.input != "" {
		if input, err = loadRecords(flags.input); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	orch := orchestrator.New(log, nil, orchestratorOptions(cfg.Settings))

	ran := 0
	for _, doc := range cfg.Pipelines {
		if flags.pipeline != "" && doc.ID != flags.pipeline {
			continue
		}
		ran++

		p, dest, err := buildPipeline(doc, input, log)
		if err != nil {
			return err
		}

		result, err := orch.Execute(ctx, p, doc.RuntimeConfig())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s: %s, %d records processed, %d failed, %s\n",
			doc.ID, result.Status, result.RecordsProcessed, result.RecordsFailed,
			result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
		if !result.Success {
			return fmt.Errorf("pipeline %s finished with %d error(s)", doc.ID, len(result.Errors))
		}

		if flags.output != "" {
			if err := writeRecords(flags.output, dest.Records()); err != nil {
				return err
			}
		}
	}

	if ran == 0 {
		return fmt.Errorf("no pipeline matched id %q", flags.pipeline)
	}
	return nil
}

func orchestratorOptions(s config.Settings) orchestrator.Options {
	return orchestrator.Options{
		Tick:         time.Duration(s.SchedulerTickSeconds) * time.Second,
		StopGrace:    time.Duration(s.StopGraceSeconds) * time.Second,
		HistoryLimit: s.HistoryLimit,
	}
}
