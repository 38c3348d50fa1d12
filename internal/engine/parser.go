package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Trellis/internal/domain"
)

// Parse разбирает спецификацию пайплайна из YAML.
//
// Неизвестные поля — ошибка (защита от опечаток в спецификации).
// После разбора к шагам применяются defaults.
func Parse(data []byte) (*domain.PipelineSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec domain.PipelineSpec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrParse)
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	applyDefaults(&spec)
	return &spec, nil
}

// LoadFile читает и разбирает спецификацию пайплайна из файла.
func LoadFile(path string) (*domain.PipelineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline spec: %w", err)
	}
	return Parse(data)
}

// Платформенные значения по умолчанию для незаполненных полей remote.
const (
	defaultInstanceCount = 1
	defaultVolumeSizeGB  = 30
	defaultTimeoutSec    = 3600
)

// applyDefaults переносит defaults.remote в незаполненные поля шагов,
// затем добавляет платформенные значения по умолчанию.
func applyDefaults(spec *domain.PipelineSpec) {
	var def *domain.RemoteConfig
	if spec.Defaults != nil {
		def = spec.Defaults.Remote
	}

	for i := range spec.Steps {
		remote := &spec.Steps[i].Remote

		if def != nil {
			if remote.Image == "" {
				remote.Image = def.Image
			}
			if remote.EntryPoint == "" {
				remote.EntryPoint = def.EntryPoint
			}
			if remote.InstanceType == "" {
				remote.InstanceType = def.InstanceType
			}
			if remote.InstanceCount == 0 {
				remote.InstanceCount = def.InstanceCount
			}
			if remote.VolumeSizeGB == 0 {
				remote.VolumeSizeGB = def.VolumeSizeGB
			}
			if remote.TimeoutSec == 0 {
				remote.TimeoutSec = def.TimeoutSec
			}
			if remote.MaxAttempts == 0 {
				remote.MaxAttempts = def.MaxAttempts
			}
			if len(def.Environment) > 0 {
				if remote.Environment == nil {
					remote.Environment = make(map[string]string, len(def.Environment))
				}
				for k, v := range def.Environment {
					if _, ok := remote.Environment[k]; !ok {
						remote.Environment[k] = v
					}
				}
			}
		}

		if remote.InstanceCount == 0 {
			remote.InstanceCount = defaultInstanceCount
		}
		if remote.VolumeSizeGB == 0 {
			remote.VolumeSizeGB = defaultVolumeSizeGB
		}
		if remote.TimeoutSec == 0 {
			remote.TimeoutSec = defaultTimeoutSec
		}
	}
}
