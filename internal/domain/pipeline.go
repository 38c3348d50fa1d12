package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepKind — тип шага пайплайна.
//
// Определяет схему валидации параметров шага и семантику
// job'а на удалённой платформе.
type StepKind string

const (
	// StepKindProcessing — обработка/подготовка данных.
	StepKindProcessing StepKind = "data-processing"

	// StepKindTraining — обучение модели.
	StepKindTraining StepKind = "training"

	// StepKindEvaluation — оценка обученной модели.
	StepKindEvaluation StepKind = "evaluation"

	// StepKindCustom — произвольный шаг без предопределённой схемы параметров.
	StepKindCustom StepKind = "custom"
)

// IsValid возвращает true, если kind — известный тип шага.
func (k StepKind) IsValid() bool {
	switch k {
	case StepKindProcessing, StepKindTraining, StepKindEvaluation, StepKindCustom:
		return true
	default:
		return false
	}
}

// Kinds возвращает список всех известных типов шагов.
func Kinds() []StepKind {
	return []StepKind{StepKindProcessing, StepKindTraining, StepKindEvaluation, StepKindCustom}
}

// PipelineSpec — спецификация ML-пайплайна.
//
// Это "программа" для Trellis: упорядоченный список шагов,
// их зависимости и настройки удалённого выполнения.
// Порядок объявления шагов значим — он разрешает неоднозначности
// топологической сортировки.
type PipelineSpec struct {
	// Version — версия формата спецификации (для обратной совместимости).
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Name — имя пайплайна (например, "fraud-detection").
	Name string `json:"name" yaml:"name"`

	// Description — описание назначения пайплайна.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Defaults — настройки по умолчанию для всех шагов.
	Defaults *StepDefaults `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Steps — шаги в порядке объявления.
	Steps []StepSpec `json:"steps" yaml:"steps"`
}

// StepDefaults — значения по умолчанию, применяемые к каждому шагу.
type StepDefaults struct {
	// Remote — частичная конфигурация удалённого выполнения.
	// Незаполненные поля шага берутся отсюда.
	Remote *RemoteConfig `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// StepSpec — неизменяемое описание одного шага пайплайна.
type StepSpec struct {
	// Name — уникальное имя шага в рамках пайплайна.
	// Используется в depends_on и для трассировки причин skip.
	Name string `json:"name" yaml:"name"`

	// Kind — тип шага. Определяет схему валидации Parameters.
	Kind StepKind `json:"kind" yaml:"kind"`

	// DependsOn — явные зависимости (имена шагов).
	// Дополняют рёбра, выведенные из inputs/outputs.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Inputs — именованные артефакты, которые шаг потребляет.
	Inputs []InputRef `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Outputs — именованные артефакты, которые шаг производит.
	// Два шага не могут производить артефакт с одним именем.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Parameters — конфигурация шага; схема зависит от Kind.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Remote — конфигурация job'а на удалённой платформе.
	Remote RemoteConfig `json:"remote" yaml:"remote"`
}

// InputRef — ссылка на входной артефакт шага.
type InputRef struct {
	// Name — имя артефакта. Совпадение с output другого шага
	// порождает ребро зависимости.
	Name string `json:"name" yaml:"name"`

	// External — артефакт поставляется извне пайплайна
	// (например, уже лежит в хранилище). Не требует шага-производителя.
	External bool `json:"external,omitempty" yaml:"external,omitempty"`
}

// RemoteConfig — параметры запуска job'а на управляемой платформе обучения.
type RemoteConfig struct {
	// Image — образ контейнера для выполнения.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// EntryPoint — скрипт внутри образа (альтернатива полностью кастомному образу).
	EntryPoint string `json:"entry_point,omitempty" yaml:"entry_point,omitempty"`

	// InstanceType — тип вычислительного инстанса (например, "ml.m5.xlarge").
	InstanceType string `json:"instance_type,omitempty" yaml:"instance_type,omitempty"`

	// InstanceCount — количество инстансов. Должно быть > 0.
	InstanceCount int `json:"instance_count,omitempty" yaml:"instance_count,omitempty"`

	// VolumeSizeGB — размер диска в гигабайтах.
	VolumeSizeGB int `json:"volume_size_gb,omitempty" yaml:"volume_size_gb,omitempty"`

	// TimeoutSec — wall-clock таймаут выполнения шага. Должен быть > 0.
	// Превышение — перманентная ошибка без retry.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	// MaxAttempts — максимальное количество попыток (включая первую).
	// По умолчанию 1 — без retry. Retry выполняется только
	// при транзиентных ошибках платформы.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// Environment — переменные окружения job'а.
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// Timeout возвращает таймаут шага как time.Duration.
func (c RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Attempts возвращает максимальное количество попыток (минимум 1).
func (c RemoteConfig) Attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// Step возвращает шаг по имени или nil.
func (p *PipelineSpec) Step(name string) *StepSpec {
	for i := range p.Steps {
		if p.Steps[i].Name == name {
			return &p.Steps[i]
		}
	}
	return nil
}

// Pipeline — зарегистрированный пайплайн.
//
// Регистрация (trellis submit) сохраняет спецификацию в БД,
// после чего пайплайн можно запускать по имени и по расписанию.
type Pipeline struct {
	// ID — уникальный идентификатор пайплайна.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя пайплайна (из спецификации).
	Name string `json:"name"`

	// Spec — спецификация (хранится как JSONB).
	Spec PipelineSpec `json:"spec"`

	// CreatedAt — время регистрации.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления спецификации.
	UpdatedAt time.Time `json:"updated_at"`
}
