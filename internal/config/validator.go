package config

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/refinery-etl/refinery/internal/schedule"
	refineryerrors "github.com/refinery-etl/refinery/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return identifierPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
			_, err := schedule.Parse(fl.Field().String())
			return err == nil
		})

		validateInst = v
	})

	return validateInst
}

// ValidateConfig performs schema and cross-field validation on the
// configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return refineryerrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	pipelineIDs := make(map[string]struct{}, len(cfg.Pipelines))
	for i, p := range cfg.Pipelines {
		if _, exists := pipelineIDs[p.ID]; exists {
			return refineryerrors.NewValidationError(fieldForPipeline(i, "id"),
				fmt.Sprintf("duplicate pipeline id %q", p.ID), nil)
		}
		pipelineIDs[p.ID] = struct{}{}

		orders := make(map[int]string, len(p.Stages))
		stageIDs := make(map[string]struct{}, len(p.Stages))
		for j, s := range p.Stages {
			if prev, exists := orders[s.Order]; exists {
				return refineryerrors.NewValidationError(fieldForStage(i, j, "order"),
					fmt.Sprintf("order %d already used by stage %q", s.Order, prev), nil)
			}
			orders[s.Order] = s.ID

			if _, exists := stageIDs[s.ID]; exists {
				return refineryerrors.NewValidationError(fieldForStage(i, j, "id"),
					fmt.Sprintf("duplicate stage id %q", s.ID), nil)
			}
			stageIDs[s.ID] = struct{}{}
		}
	}

	return nil
}

func fieldForPipeline(i int, field string) string {
	return fmt.Sprintf("pipelines[%d].%s", i, field)
}

func fieldForStage(i, j int, field string) string {
	return fmt.Sprintf("pipelines[%d].stages[%d].%s", i, j, field)
}

func convertValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return refineryerrors.NewValidationError("config", err.Error(), err)
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
	}
	return refineryerrors.NewValidationError("config", strings.Join(messages, "; "), err)
}
