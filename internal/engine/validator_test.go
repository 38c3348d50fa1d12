package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Trellis/internal/domain"
)

func validStep(name string, kind domain.StepKind, params map[string]any) domain.StepSpec {
	return domain.StepSpec{
		Name:       name,
		Kind:       kind,
		Parameters: params,
		Remote: domain.RemoteConfig{
			Image:         "123456789.dkr.ecr.us-east-1.amazonaws.com/train:latest",
			InstanceType:  "ml.m5.xlarge",
			InstanceCount: 1,
			TimeoutSec:    3600,
		},
	}
}

func TestValidate_ValidSpec(t *testing.T) {
	v := NewValidator(nil)
	err := v.Validate(&domain.PipelineSpec{Steps: []domain.StepSpec{
		validStep("load", domain.StepKindProcessing, map[string]any{"job_type": "training"}),
		validStep("train", domain.StepKindTraining, map[string]any{
			"framework": "xgboost",
			"epochs":    10,
		}),
		validStep("evaluate", domain.StepKindEvaluation, map[string]any{
			"metrics":   []any{"auc", "f1"},
			"threshold": 0.8,
		}),
		validStep("notify", domain.StepKindCustom, nil),
	}})
	if err != nil {
		t.Fatalf("expected valid spec, got: %v", err)
	}
}

func TestValidate_EmptySpec(t *testing.T) {
	v := NewValidator(nil)

	err := v.Validate(&domain.PipelineSpec{})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec, got %v", err)
	}
	if !strings.Contains(err.Error(), ErrEmptySteps.Error()) {
		t.Errorf("expected empty-steps message, got %q", err.Error())
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	v := NewValidator(nil)

	bad := validStep("", "mystery", nil)
	bad.Remote.InstanceType = ""

	err := v.Validate(&domain.PipelineSpec{Steps: []domain.StepSpec{bad}})
	if err == nil {
		t.Fatal("expected error")
	}

	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	// Empty name, unknown kind, missing instance_type.
	if len(valErr.Violations) != 3 {
		t.Errorf("expected 3 violations, got %d: %v", len(valErr.Violations), valErr.Violations)
	}
	if !errors.Is(err, ErrInvalidSpec) {
		t.Error("ValidationError must unwrap to ErrInvalidSpec")
	}
}

func TestValidate_DuplicateName(t *testing.T) {
	v := NewValidator(nil)
	err := v.Validate(&domain.PipelineSpec{Steps: []domain.StepSpec{
		validStep("train", domain.StepKindCustom, nil),
		validStep("train", domain.StepKindCustom, nil),
	}})
	if err == nil || !strings.Contains(err.Error(), "duplicate step name") {
		t.Errorf("expected duplicate name violation, got %v", err)
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	v := NewValidator(nil)
	step := validStep("train", domain.StepKindCustom, nil)
	step.DependsOn = []string{"train"}

	err := v.Validate(&domain.PipelineSpec{Steps: []domain.StepSpec{step}})
	if err == nil || !strings.Contains(err.Error(), "depends on itself") {
		t.Errorf("expected self-dependency violation, got %v", err)
	}
}

func TestValidate_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		kind    domain.StepKind
		params  map[string]any
		wantMsg string
	}{
		{
			name:    "processing missing job_type",
			kind:    domain.StepKindProcessing,
			params:  nil,
			wantMsg: "required parameter is missing",
		},
		{
			name:    "processing unknown job_type",
			kind:    domain.StepKindProcessing,
			params:  map[string]any{"job_type": "shuffling"},
			wantMsg: "unknown job_type",
		},
		{
			name:    "training missing framework",
			kind:    domain.StepKindTraining,
			params:  map[string]any{},
			wantMsg: "required parameter is missing",
		},
		{
			name:    "training non-positive epochs",
			kind:    domain.StepKindTraining,
			params:  map[string]any{"framework": "pytorch", "epochs": 0},
			wantMsg: "must be > 0",
		},
		{
			name:    "training hyperparameters not a map",
			kind:    domain.StepKindTraining,
			params:  map[string]any{"framework": "pytorch", "hyperparameters": "lr=0.1"},
			wantMsg: "must be a map",
		},
		{
			name:    "evaluation empty metrics",
			kind:    domain.StepKindEvaluation,
			params:  map[string]any{"metrics": []any{}},
			wantMsg: "must not be empty",
		},
		{
			name:    "evaluation threshold out of range",
			kind:    domain.StepKindEvaluation,
			params:  map[string]any{"metrics": []any{"auc"}, "threshold": 1.5},
			wantMsg: "must be in [0, 1]",
		},
	}

	v := NewValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&domain.PipelineSpec{Steps: []domain.StepSpec{
				validStep("step", tt.kind, tt.params),
			}})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected %q in error, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestValidate_RemoteConfig(t *testing.T) {
	v := NewValidator(nil)

	step := validStep("train", domain.StepKindCustom, nil)
	step.Remote.Image = ""
	step.Remote.EntryPoint = ""
	step.Remote.InstanceCount = 0
	step.Remote.TimeoutSec = 0

	err := v.Validate(&domain.PipelineSpec{Steps: []domain.StepSpec{step}})
	if err == nil {
		t.Fatal("expected error")
	}

	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(valErr.Violations) != 3 {
		t.Errorf("expected 3 violations, got %d: %v", len(valErr.Violations), valErr.Violations)
	}
}

func TestValidate_CustomSchemaRegistered(t *testing.T) {
	registry := NewSchemaRegistry()
	registry.Register("tuning", TrainingSchema{})

	v := NewValidator(registry)
	step := validStep("tune", "tuning", map[string]any{})

	err := v.Validate(&domain.PipelineSpec{Steps: []domain.StepSpec{step}})
	if err == nil {
		t.Fatal("expected error from registered schema")
	}
	// Kind itself is unknown to the built-ins plus the schema requires framework.
	if !strings.Contains(err.Error(), "framework") {
		t.Errorf("expected framework violation, got %q", err.Error())
	}
}
