package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/refinery-etl/refinery/internal/config"
	"github.com/refinery-etl/refinery/internal/orchestrator"
	"github.com/refinery-etl/refinery/internal/record"
)

type serveFlags struct {
	input string
}

func newServeCmd(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve <config>",
		Short: "Run the scheduler for pipelines with a schedule until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, args[0], root, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "YAML file with input records for extract stages")

	return cmd
}

func serve(cmd *cobra.Command, path string, root *rootFlags, flags *serveFlags) error {
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

	orch := orchestrator.New(log, nil, orchestratorOptions(cfg.Settings))

	scheduled := 0
	for _, doc := range cfg.Pipelines {
		spec := doc.Schedule.Spec()
		if !spec.Enabled {
			continue
		}
		p, _, err := buildPipeline(doc, input, log)
		if err != nil {
			return err
		}
		if err := orch.RegisterPipeline(p); err != nil {
			return err
		}
		if _, err := orch.ScheduleJob(doc.ID, spec); err != nil {
			return err
		}
		scheduled++
	}
	if scheduled == 0 {
		return fmt.Errorf("no pipeline in %s has an enabled schedule", path)
	}

	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, stop := signal.NotifyContext(base, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.StartScheduler(ctx)
	log.Infof("serving %d scheduled pipeline(s), press Ctrl-C to stop", scheduled)
	<-ctx.Done()
	orch.StopScheduler()
	log.Info("scheduler stopped")
	return nil
}
