package engine

import (
	"fmt"

	"github.com/shaiso/Trellis/internal/domain"
)

// ParamSchema — схема параметров для одного типа шага.
//
// Каждый StepKind имеет явно определённый тип схемы;
// валидация идёт через единую полиморфную точку входа Check.
type ParamSchema interface {
	// Check возвращает нарушения для parameters шага.
	// StepName в нарушениях заполняет вызывающая сторона.
	Check(params map[string]any) []Violation
}

// SchemaRegistry — реестр схем по типам шагов.
//
// Передаётся в Validator явно при конструировании — не глобальное
// состояние, чтобы независимые runs могли использовать разные реестры.
type SchemaRegistry struct {
	schemas map[domain.StepKind]ParamSchema
}

// NewSchemaRegistry создаёт реестр со схемами по умолчанию
// для всех встроенных типов шагов.
func NewSchemaRegistry() *SchemaRegistry {
	r := &SchemaRegistry{schemas: make(map[domain.StepKind]ParamSchema)}
	r.Register(domain.StepKindProcessing, ProcessingSchema{})
	r.Register(domain.StepKindTraining, TrainingSchema{})
	r.Register(domain.StepKindEvaluation, EvaluationSchema{})
	r.Register(domain.StepKindCustom, CustomSchema{})
	return r
}

// Register добавляет схему для типа шага.
func (r *SchemaRegistry) Register(kind domain.StepKind, schema ParamSchema) {
	r.schemas[kind] = schema
}

// Get возвращает схему для типа шага.
func (r *SchemaRegistry) Get(kind domain.StepKind) (ParamSchema, bool) {
	schema, ok := r.schemas[kind]
	return schema, ok
}

// Допустимые значения job_type для data-processing шагов.
var validJobTypes = map[string]bool{
	"training":    true,
	"validation":  true,
	"testing":     true,
	"calibration": true,
}

// ProcessingSchema — схема параметров для шагов data-processing.
//
// Обязательные параметры:
//   - job_type (string): training | validation | testing | calibration
type ProcessingSchema struct{}

// Check реализует ParamSchema.
func (ProcessingSchema) Check(params map[string]any) []Violation {
	var violations []Violation

	jobType, v := requireString(params, "job_type")
	if v != nil {
		violations = append(violations, *v)
	} else if !validJobTypes[jobType] {
		violations = append(violations, Violation{
			Field:   "parameters.job_type",
			Message: fmt.Sprintf("unknown job_type: %q", jobType),
		})
	}

	return violations
}

// TrainingSchema — схема параметров для шагов training.
//
// Обязательные параметры:
//   - framework (string): фреймворк обучения (например, "xgboost", "pytorch")
//
// Опциональные:
//   - hyperparameters (map)
//   - epochs (int > 0)
type TrainingSchema struct{}

// Check реализует ParamSchema.
func (TrainingSchema) Check(params map[string]any) []Violation {
	var violations []Violation

	if _, v := requireString(params, "framework"); v != nil {
		violations = append(violations, *v)
	}

	if raw, ok := params["hyperparameters"]; ok {
		if _, isMap := raw.(map[string]any); !isMap {
			violations = append(violations, Violation{
				Field:   "parameters.hyperparameters",
				Message: "must be a map",
			})
		}
	}

	if raw, ok := params["epochs"]; ok {
		epochs, isInt := asInt(raw)
		if !isInt {
			violations = append(violations, Violation{
				Field:   "parameters.epochs",
				Message: "must be an integer",
			})
		} else if epochs <= 0 {
			violations = append(violations, Violation{
				Field:   "parameters.epochs",
				Message: fmt.Sprintf("must be > 0, got %d", epochs),
			})
		}
	}

	return violations
}

// EvaluationSchema — схема параметров для шагов evaluation.
//
// Обязательные параметры:
//   - metrics ([]string, непустой): список вычисляемых метрик
//
// Опциональные:
//   - threshold (number в [0, 1])
type EvaluationSchema struct{}

// Check реализует ParamSchema.
func (EvaluationSchema) Check(params map[string]any) []Violation {
	var violations []Violation

	raw, ok := params["metrics"]
	if !ok {
		violations = append(violations, Violation{
			Field:   "parameters.metrics",
			Message: "required parameter is missing",
		})
	} else if metrics, isList := asStringList(raw); !isList {
		violations = append(violations, Violation{
			Field:   "parameters.metrics",
			Message: "must be a list of strings",
		})
	} else if len(metrics) == 0 {
		violations = append(violations, Violation{
			Field:   "parameters.metrics",
			Message: "must not be empty",
		})
	}

	if raw, ok := params["threshold"]; ok {
		threshold, isNum := asFloat(raw)
		if !isNum {
			violations = append(violations, Violation{
				Field:   "parameters.threshold",
				Message: "must be a number",
			})
		} else if threshold < 0 || threshold > 1 {
			violations = append(violations, Violation{
				Field:   "parameters.threshold",
				Message: fmt.Sprintf("must be in [0, 1], got %v", threshold),
			})
		}
	}

	return violations
}

// CustomSchema — схема для custom шагов: параметры не проверяются.
type CustomSchema struct{}

// Check реализует ParamSchema.
func (CustomSchema) Check(_ map[string]any) []Violation {
	return nil
}

// requireString проверяет наличие непустого строкового параметра.
func requireString(params map[string]any, name string) (string, *Violation) {
	raw, ok := params[name]
	if !ok {
		return "", &Violation{
			Field:   "parameters." + name,
			Message: "required parameter is missing",
		}
	}
	s, isString := raw.(string)
	if !isString {
		return "", &Violation{
			Field:   "parameters." + name,
			Message: "must be a string",
		}
	}
	if s == "" {
		return "", &Violation{
			Field:   "parameters." + name,
			Message: "must not be empty",
		}
	}
	return s, nil
}

// asInt приводит значение из YAML/JSON к int.
func asInt(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// asFloat приводит значение из YAML/JSON к float64.
func asFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// asStringList приводит значение к списку строк.
func asStringList(raw any) ([]string, bool) {
	switch list := raw.(type) {
	case []string:
		return list, true
	case []any:
		result := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			result = append(result, s)
		}
		return result, true
	default:
		return nil, false
	}
}
