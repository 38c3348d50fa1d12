package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки валидации спецификации.
var (
	// ErrEmptySteps — пайплайн не содержит шагов.
	ErrEmptySteps = errors.New("pipeline spec has no steps")

	// ErrInvalidSpec — спецификация не прошла валидацию.
	ErrInvalidSpec = errors.New("invalid pipeline spec")

	// ErrParse — не удалось распарсить спецификацию.
	ErrParse = errors.New("parse pipeline spec failed")
)

// Ошибки построения графа.
var (
	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrDuplicateStepName — несколько шагов с одинаковым именем.
	ErrDuplicateStepName = errors.New("duplicate step name")

	// ErrDuplicateOutput — два шага производят артефакт с одним именем.
	ErrDuplicateOutput = errors.New("ambiguous output provenance")

	// ErrUnresolvedInput — шаг требует артефакт, который никто не производит.
	ErrUnresolvedInput = errors.New("unresolved input")

	// ErrUnknownDependency — depends_on ссылается на несуществующий шаг.
	ErrUnknownDependency = errors.New("step depends on unknown step")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")
)

// Violation — одно нарушение правила валидации.
type Violation struct {
	// StepName — имя шага, где обнаружено нарушение (пусто для уровня пайплайна).
	StepName string

	// Field — поле, вызвавшее нарушение.
	Field string

	// Message — описание нарушения.
	Message string
}

// String возвращает человекочитаемое представление нарушения.
func (v Violation) String() string {
	if v.StepName == "" {
		return fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return fmt.Sprintf("step %s: %s: %s", v.StepName, v.Field, v.Message)
}

// ValidationError — ошибка валидации, перечисляющая ВСЕ нарушения,
// а не только первое. Позволяет исправить спецификацию за один проход.
type ValidationError struct {
	Violations []Violation
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pipeline validation failed (%d violation(s))", len(e.Violations))
	for _, v := range e.Violations {
		sb.WriteString("\n  - ")
		sb.WriteString(v.String())
	}
	return sb.String()
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidSpec
}

// GraphError — ошибка построения графа зависимостей.
type GraphError struct {
	// StepName — имя шага, где обнаружена проблема (пусто для циклов).
	StepName string

	// Message — описание проблемы.
	Message string

	// Cycle — полный путь цикла (только узлы, действительно лежащие на цикле).
	// Заполняется для ErrCyclicDependency.
	Cycle []string

	// Err — базовая ошибка.
	Err error
}

// Error реализует интерфейс error.
func (e *GraphError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Cycle, " -> "))
	}
	if e.StepName != "" {
		return fmt.Sprintf("step %s: %s", e.StepName, e.Message)
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *GraphError) Unwrap() error {
	return e.Err
}
