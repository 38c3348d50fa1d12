package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
)

// Default configuration values.
const (
	defaultPollRetries    = 3
	defaultPollRetryDelay = 2 * time.Second
	defaultHTTPTimeout    = 30 * time.Second
)

// HTTP-коды платформы, считающиеся транзиентными.
var transientHTTPStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Коды ошибок job'ов, считающиеся транзиентными.
// Всё остальное — перманент (консервативный дефолт).
var transientFailureCodes = map[string]bool{
	"Throttling":            true,
	"ResourceLimitExceeded": true,
	"InsufficientCapacity":  true,
	"InternalError":         true,
}

// PlatformAdapter — HTTP-адаптер управляемой платформы обучения.
//
// API платформы:
//
//	POST /v1/jobs             → {"job_id": "..."}
//	GET  /v1/jobs/{id}        → {"state": "...", "reason": "...", "failure_code": "..."}
//	POST /v1/jobs/{id}/cancel → 202
type PlatformAdapter struct {
	baseURL        string
	client         *http.Client
	logger         *slog.Logger
	pollRetries    int
	pollRetryDelay time.Duration
}

// PlatformConfig — конфигурация PlatformAdapter.
type PlatformConfig struct {
	// BaseURL — адрес API платформы.
	BaseURL string

	// HTTPClient — клиент для запросов (опционально).
	HTTPClient *http.Client

	// PollRetries — количество внутренних повторов poll при транспортных
	// ошибках до выдачи FAILED_TRANSIENT (default: 3).
	PollRetries int

	// PollRetryDelay — задержка между внутренними повторами (default: 2s).
	PollRetryDelay time.Duration

	// Logger
	Logger *slog.Logger
}

// NewPlatform создаёт PlatformAdapter.
func NewPlatform(cfg PlatformConfig) *PlatformAdapter {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	pollRetries := cfg.PollRetries
	if pollRetries <= 0 {
		pollRetries = defaultPollRetries
	}

	pollRetryDelay := cfg.PollRetryDelay
	if pollRetryDelay <= 0 {
		pollRetryDelay = defaultPollRetryDelay
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PlatformAdapter{
		baseURL:        cfg.BaseURL,
		client:         client,
		logger:         logger,
		pollRetries:    pollRetries,
		pollRetryDelay: pollRetryDelay,
	}
}

// submitRequest — тело запроса на создание job'а.
type submitRequest struct {
	RunID          string            `json:"run_id"`
	StepName       string            `json:"step_name"`
	Kind           string            `json:"kind"`
	Attempt        int               `json:"attempt"`
	Image          string            `json:"image,omitempty"`
	EntryPoint     string            `json:"entry_point,omitempty"`
	InstanceType   string            `json:"instance_type"`
	InstanceCount  int               `json:"instance_count"`
	VolumeSizeGB   int               `json:"volume_size_gb,omitempty"`
	TimeoutSec     int               `json:"timeout_sec"`
	Environment    map[string]string `json:"environment,omitempty"`
	Parameters     map[string]any    `json:"parameters,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// submitResponse — ответ платформы на создание job'а.
type submitResponse struct {
	JobID string `json:"job_id"`
}

// jobStatusResponse — ответ платформы на запрос статуса.
type jobStatusResponse struct {
	State       string `json:"state"`
	Reason      string `json:"reason,omitempty"`
	FailureCode string `json:"failure_code,omitempty"`
}

// Submit отправляет шаг на платформу.
//
// Idempotency key формируется из run/step/attempt: повторная отправка
// той же попытки безопасна — дедупликацию гарантирует платформа.
func (a *PlatformAdapter) Submit(ctx context.Context, runID uuid.UUID, step *domain.StepSpec, attempt int) (JobHandle, error) {
	key := fmt.Sprintf("%s:%s:%d", runID, step.Name, attempt)

	body, err := json.Marshal(submitRequest{
		RunID:          runID.String(),
		StepName:       step.Name,
		Kind:           string(step.Kind),
		Attempt:        attempt,
		Image:          step.Remote.Image,
		EntryPoint:     step.Remote.EntryPoint,
		InstanceType:   step.Remote.InstanceType,
		InstanceCount:  step.Remote.InstanceCount,
		VolumeSizeGB:   step.Remote.VolumeSizeGB,
		TimeoutSec:     step.Remote.TimeoutSec,
		Environment:    step.Remote.Environment,
		Parameters:     step.Parameters,
		IdempotencyKey: key,
	})
	if err != nil {
		return JobHandle{}, &PermanentError{Err: fmt.Errorf("%w: marshal request: %v", ErrSubmit, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return JobHandle{}, &PermanentError{Err: fmt.Errorf("%w: %v", ErrSubmit, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := a.client.Do(req)
	if err != nil {
		// Сетевая ошибка — транзиент: платформа могла быть временно недоступна.
		return JobHandle{}, &TransientError{Err: fmt.Errorf("%w: %v", ErrSubmit, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return JobHandle{}, classifyHTTPError(ErrSubmit, resp)
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return JobHandle{}, &PermanentError{Err: fmt.Errorf("%w: decode response: %v", ErrSubmit, err)}
	}
	if result.JobID == "" {
		return JobHandle{}, &PermanentError{Err: fmt.Errorf("%w: platform returned empty job_id", ErrSubmit)}
	}

	a.logger.Debug("job submitted",
		"job_id", result.JobID,
		"step", step.Name,
		"attempt", attempt,
	)

	return JobHandle{ID: result.JobID, StepName: step.Name, Attempt: attempt}, nil
}

// Poll возвращает нормализованный статус job'а.
//
// Транспортные ошибки повторяются pollRetries раз с задержкой;
// после исчерпания повторов наружу уходит FAILED_TRANSIENT —
// планировщик решает, делать ли retry попытки целиком.
func (a *PlatformAdapter) Poll(ctx context.Context, handle JobHandle) (JobStatus, error) {
	var lastErr error

	for i := 0; i < a.pollRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(a.pollRetryDelay):
			case <-ctx.Done():
				return JobStatus{}, ctx.Err()
			}
		}

		status, err := a.pollOnce(ctx, handle)
		if err == nil {
			return status, nil
		}
		if ctx.Err() != nil {
			return JobStatus{}, ctx.Err()
		}

		lastErr = err
		a.logger.Debug("poll attempt failed",
			"job_id", handle.ID,
			"attempt", i+1,
			"error", err,
		)
	}

	return JobStatus{
		State:  JobStateFailedTransient,
		Reason: fmt.Sprintf("poll failed after %d attempts: %v", a.pollRetries, lastErr),
	}, nil
}

// pollOnce выполняет один запрос статуса.
func (a *PlatformAdapter) pollOnce(ctx context.Context, handle JobHandle) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/jobs/"+handle.ID, nil)
	if err != nil {
		return JobStatus{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return JobStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Job исчез с платформы — перманент, retry не вернёт его.
		return JobStatus{State: JobStateFailedPermanent, Reason: ErrJobNotFound.Error()}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return JobStatus{}, fmt.Errorf("platform returned HTTP %d", resp.StatusCode)
	}

	var result jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return JobStatus{}, fmt.Errorf("decode status: %w", err)
	}

	return normalizeStatus(result), nil
}

// normalizeStatus переводит статус платформы в таксономию движка.
func normalizeStatus(raw jobStatusResponse) JobStatus {
	switch raw.State {
	case "Pending", "Starting", "InProgress", "Stopping":
		return JobStatus{State: JobStateInProgress}
	case "Completed", "Succeeded":
		return JobStatus{State: JobStateSucceeded}
	case "Failed", "Stopped":
		state := JobStateFailedPermanent
		if transientFailureCodes[raw.FailureCode] {
			state = JobStateFailedTransient
		}
		reason := raw.Reason
		if reason == "" {
			reason = raw.FailureCode
		}
		if reason == "" {
			reason = "job failed without reason"
		}
		return JobStatus{State: state, Reason: reason}
	default:
		// Неизвестное состояние — перманент (консервативный дефолт).
		return JobStatus{
			State:  JobStateFailedPermanent,
			Reason: fmt.Sprintf("unknown platform state: %q", raw.State),
		}
	}
}

// Cancel запрашивает best-effort отмену job'а.
func (a *PlatformAdapter) Cancel(ctx context.Context, handle JobHandle) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/jobs/"+handle.ID+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCancel, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCancel, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// 404/409 — job уже завершён или не существует; отмена best-effort.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: platform returned HTTP %d", ErrCancel, resp.StatusCode)
	}

	a.logger.Debug("job cancel requested", "job_id", handle.ID)
	return nil
}

// classifyHTTPError переводит HTTP-ошибку платформы в transient/permanent.
func classifyHTTPError(base error, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%w: platform returned HTTP %d: %s", base, resp.StatusCode, bytes.TrimSpace(body))

	if transientHTTPStatus[resp.StatusCode] {
		return &TransientError{Err: err}
	}
	return &PermanentError{Err: err}
}
