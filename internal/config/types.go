package config

// Config is the root of an engine configuration document.
type Config struct {
	Version   string     `yaml:"version" validate:"required"`
	Name      string     `yaml:"name" validate:"required,min=1,max=100"`
	Settings  Settings   `yaml:"settings"`
	Pipelines []Pipeline `yaml:"pipelines" validate:"required,min=1,dive"`
}

// Settings tunes the orchestrator.
type Settings struct {
	SchedulerTickSeconds int `yaml:"scheduler_tick_seconds" validate:"omitempty,min=1"`
	StopGraceSeconds     int `yaml:"stop_grace_seconds" validate:"omitempty,min=1"`
	HistoryLimit         int `yaml:"history_limit" validate:"omitempty,min=1"`
}

// Pipeline configures one pipeline and its stages.
type Pipeline struct {
	ID            string        `yaml:"id" validate:"required,identifier"`
	Name          string        `yaml:"name" validate:"required"`
	Description   string        `yaml:"description"`
	ErrorHandling ErrorHandling `yaml:"error_handling"`
	Defaults      Defaults      `yaml:"defaults"`
	Schedule      *Schedule     `yaml:"schedule"`
	Stages        []Stage       `yaml:"stages" validate:"required,min=1,dive"`
}

// ErrorHandling is the pipeline failure policy.
type ErrorHandling struct {
	StopOnError bool `yaml:"stop_on_error"`
	MaxErrors   int  `yaml:"max_errors" validate:"min=0"`
}

// Defaults carries stage-level tuning fallbacks.
type Defaults struct {
	BatchSize   int `yaml:"batch_size" validate:"omitempty,min=1"`
	Parallelism int `yaml:"parallelism" validate:"omitempty,min=1"`
}

// Schedule configures periodic execution of a pipeline.
type Schedule struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron" validate:"omitempty,cron"`
}

// Stage configures one pipeline stage.
type Stage struct {
	ID              string `yaml:"id" validate:"required,identifier"`
	Name            string `yaml:"name" validate:"required"`
	Type            string `yaml:"type" validate:"required,oneof=extract transform load custom"`
	Order           int    `yaml:"order" validate:"min=0"`
	Strategy        string `yaml:"strategy" validate:"omitempty,oneof=sequential parallel batch"`
	ContinueOnError bool   `yaml:"continue_on_error"`
	BatchSize       int    `yaml:"batch_size" validate:"omitempty,min=1"`
	Parallelism     int    `yaml:"parallelism" validate:"omitempty,min=1"`
}
