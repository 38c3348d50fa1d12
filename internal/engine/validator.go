package engine

import (
	"fmt"

	"github.com/shaiso/Trellis/internal/domain"
)

// Validator проверяет StepSpec'ы против реестра схем.
//
// Валидация — чистая функция над входом и реестром: без побочных
// эффектов, повторный вызов для того же входа даёт тот же результат.
type Validator struct {
	schemas *SchemaRegistry
}

// NewValidator создаёт Validator.
// Если registry == nil, используется реестр по умолчанию.
func NewValidator(registry *SchemaRegistry) *Validator {
	if registry == nil {
		registry = NewSchemaRegistry()
	}
	return &Validator{schemas: registry}
}

// Validate выполняет полную валидацию спецификации пайплайна.
//
// Собирает ВСЕ нарушения по всем шагам и возвращает их одной
// *ValidationError, чтобы пользователь исправил спецификацию
// за один проход. Возвращает nil, если нарушений нет.
func (v *Validator) Validate(spec *domain.PipelineSpec) error {
	var violations []Violation

	if spec == nil || len(spec.Steps) == 0 {
		return &ValidationError{Violations: []Violation{{
			Field:   "steps",
			Message: ErrEmptySteps.Error(),
		}}}
	}

	seen := make(map[string]bool, len(spec.Steps))
	for i := range spec.Steps {
		violations = append(violations, v.ValidateStep(&spec.Steps[i], seen)...)
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// ValidateStep валидирует один шаг.
//
// seen — имена уже встреченных шагов (контекст уникальности,
// поставляемый вызывающей стороной). Может быть nil, тогда
// уникальность не проверяется.
func (v *Validator) ValidateStep(step *domain.StepSpec, seen map[string]bool) []Violation {
	var violations []Violation

	add := func(field, message string) {
		violations = append(violations, Violation{
			StepName: step.Name,
			Field:    field,
			Message:  message,
		})
	}

	// Имя
	if step.Name == "" {
		add("name", "step has empty name")
	} else if seen != nil {
		if seen[step.Name] {
			add("name", fmt.Sprintf("duplicate step name: %s", step.Name))
		}
		seen[step.Name] = true
	}

	// Тип известен, если для него зарегистрирована схема.
	schema, known := v.schemas.Get(step.Kind)
	if !known {
		add("kind", fmt.Sprintf("unknown step kind: %q", step.Kind))
	}

	// Self-dependency
	for _, dep := range step.DependsOn {
		if dep == step.Name && step.Name != "" {
			add("depends_on", "step depends on itself")
		}
	}

	// Параметры по схеме kind
	if known {
		for _, violation := range schema.Check(step.Parameters) {
			violation.StepName = step.Name
			violations = append(violations, violation)
		}
	}

	// Конфигурация удалённого выполнения
	violations = append(violations, v.validateRemote(step)...)

	return violations
}

// validateRemote проверяет RemoteConfig шага.
func (v *Validator) validateRemote(step *domain.StepSpec) []Violation {
	var violations []Violation

	add := func(field, message string) {
		violations = append(violations, Violation{
			StepName: step.Name,
			Field:    field,
			Message:  message,
		})
	}

	remote := step.Remote

	if remote.Image == "" && remote.EntryPoint == "" {
		add("remote", "either image or entry_point is required")
	}
	if remote.InstanceType == "" {
		add("remote.instance_type", "required field is missing")
	}
	if remote.InstanceCount <= 0 {
		add("remote.instance_count", fmt.Sprintf("must be > 0, got %d", remote.InstanceCount))
	}
	if remote.VolumeSizeGB < 0 {
		add("remote.volume_size_gb", fmt.Sprintf("must be >= 0, got %d", remote.VolumeSizeGB))
	}
	if remote.TimeoutSec <= 0 {
		add("remote.timeout_sec", fmt.Sprintf("must be > 0, got %d", remote.TimeoutSec))
	}
	if remote.MaxAttempts < 0 {
		add("remote.max_attempts", fmt.Sprintf("must be >= 0, got %d", remote.MaxAttempts))
	}

	return violations
}
