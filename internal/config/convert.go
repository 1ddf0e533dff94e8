package config

import (
	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/schedule"
)

// RuntimeConfig maps the pipeline document to the runtime configuration.
func (p Pipeline) RuntimeConfig() pipeline.Config {
	return pipeline.Config{
		ErrorHandling: pipeline.ErrorHandling{
			StopOnError: p.ErrorHandling.StopOnError,
			MaxErrors:   p.ErrorHandling.MaxErrors,
		},
		Defaults: pipeline.Defaults{
			BatchSize:   p.Defaults.BatchSize,
			Parallelism: p.Defaults.Parallelism,
		},
	}.ApplyDefaults()
}

// Spec maps the schedule document to a schedule specification. A nil
// schedule is disabled.
func (s *Schedule) Spec() schedule.Spec {
	if s == nil {
		return schedule.Spec{}
	}
	return schedule.Spec{Enabled: s.Enabled, CronExpression: s.Cron}
}
