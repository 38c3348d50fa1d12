package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
)

func trainStep() *domain.StepSpec {
	return &domain.StepSpec{
		Name: "train",
		Kind: domain.StepKindTraining,
		Remote: domain.RemoteConfig{
			Image:         "train:latest",
			InstanceType:  "ml.m5.xlarge",
			InstanceCount: 1,
			TimeoutSec:    3600,
		},
	}
}

func newTestAdapter(url string) *PlatformAdapter {
	return NewPlatform(PlatformConfig{
		BaseURL:        url,
		PollRetries:    2,
		PollRetryDelay: time.Millisecond,
	})
}

// --- Submit Tests ---

func TestSubmit_Success(t *testing.T) {
	runID := uuid.New()
	var gotKey string
	var gotReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/jobs" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-42"})
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL)
	handle, err := adapter.Submit(context.Background(), runID, trainStep(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if handle.ID != "job-42" {
		t.Errorf("expected job-42, got %q", handle.ID)
	}
	if handle.StepName != "train" || handle.Attempt != 2 {
		t.Errorf("handle not filled: %+v", handle)
	}
	wantKey := runID.String() + ":train:2"
	if gotKey != wantKey {
		t.Errorf("idempotency key: got %q, want %q", gotKey, wantKey)
	}
	if gotReq["instance_type"] != "ml.m5.xlarge" {
		t.Errorf("request body missing remote config: %v", gotReq)
	}
}

func TestSubmit_TransientHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL)
	_, err := adapter.Submit(context.Background(), uuid.New(), trainStep(), 1)

	if !errors.Is(err, ErrSubmit) {
		t.Errorf("expected ErrSubmit, got %v", err)
	}
	if !IsTransient(err) {
		t.Errorf("HTTP 429 must be transient, got %v", err)
	}
}

func TestSubmit_PermanentHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad job definition", http.StatusBadRequest)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL)
	_, err := adapter.Submit(context.Background(), uuid.New(), trainStep(), 1)

	if IsTransient(err) {
		t.Errorf("HTTP 400 must be permanent, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad job definition") {
		t.Errorf("error should carry platform body, got %v", err)
	}
}

func TestSubmit_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused

	adapter := newTestAdapter(srv.URL)
	_, err := adapter.Submit(context.Background(), uuid.New(), trainStep(), 1)

	if !IsTransient(err) {
		t.Errorf("network error must be transient, got %v", err)
	}
}

func TestSubmit_EmptyJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL)
	_, err := adapter.Submit(context.Background(), uuid.New(), trainStep(), 1)

	if err == nil || IsTransient(err) {
		t.Errorf("empty job_id must be a permanent error, got %v", err)
	}
}

// --- Poll Tests ---

func TestPoll_NormalizesStates(t *testing.T) {
	tests := []struct {
		name     string
		response jobStatusResponse
		want     JobState
	}{
		{"pending", jobStatusResponse{State: "Pending"}, JobStateInProgress},
		{"starting", jobStatusResponse{State: "Starting"}, JobStateInProgress},
		{"in progress", jobStatusResponse{State: "InProgress"}, JobStateInProgress},
		{"stopping", jobStatusResponse{State: "Stopping"}, JobStateInProgress},
		{"completed", jobStatusResponse{State: "Completed"}, JobStateSucceeded},
		{"succeeded", jobStatusResponse{State: "Succeeded"}, JobStateSucceeded},
		{"failed transient code", jobStatusResponse{State: "Failed", FailureCode: "Throttling"}, JobStateFailedTransient},
		{"capacity", jobStatusResponse{State: "Failed", FailureCode: "InsufficientCapacity"}, JobStateFailedTransient},
		{"failed algorithm", jobStatusResponse{State: "Failed", FailureCode: "AlgorithmError"}, JobStateFailedPermanent},
		{"failed no code", jobStatusResponse{State: "Failed", Reason: "oom"}, JobStateFailedPermanent},
		{"stopped", jobStatusResponse{State: "Stopped"}, JobStateFailedPermanent},
		{"unknown state", jobStatusResponse{State: "Hibernating"}, JobStateFailedPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/jobs/job-1" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				json.NewEncoder(w).Encode(tt.response)
			}))
			defer srv.Close()

			adapter := newTestAdapter(srv.URL)
			status, err := adapter.Poll(context.Background(), JobHandle{ID: "job-1"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status.State != tt.want {
				t.Errorf("got %s, want %s", status.State, tt.want)
			}
		})
	}
}

func TestPoll_NotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL)
	status, err := adapter.Poll(context.Background(), JobHandle{ID: "gone"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.State != JobStateFailedPermanent {
		t.Errorf("vanished job must be permanent, got %s", status.State)
	}
}

func TestPoll_RetriesTransportErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 2 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(jobStatusResponse{State: "Succeeded"})
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL)
	status, err := adapter.Poll(context.Background(), JobHandle{ID: "job-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.State != JobStateSucceeded {
		t.Errorf("expected success after retry, got %s", status.State)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestPoll_ExhaustedRetriesSurfaceTransient(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL)
	status, err := adapter.Poll(context.Background(), JobHandle{ID: "job-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.State != JobStateFailedTransient {
		t.Errorf("expected FAILED_TRANSIENT, got %s", status.State)
	}
	if calls != 2 {
		t.Errorf("expected pollRetries calls, got %d", calls)
	}
}

func TestPoll_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := newTestAdapter(srv.URL)
	_, err := adapter.Poll(ctx, JobHandle{ID: "job-1"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- Cancel Tests ---

func TestCancel_Success(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL)
	if err := adapter.Cancel(context.Background(), JobHandle{ID: "job-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v1/jobs/job-1/cancel" {
		t.Errorf("unexpected path: %s", gotPath)
	}
}

func TestCancel_AlreadyFinished(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusConflict} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))

		adapter := newTestAdapter(srv.URL)
		if err := adapter.Cancel(context.Background(), JobHandle{ID: "job-1"}); err != nil {
			t.Errorf("HTTP %d should not be an error: %v", code, err)
		}
		srv.Close()
	}
}

func TestCancel_PlatformError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL)
	err := adapter.Cancel(context.Background(), JobHandle{ID: "job-1"})
	if !errors.Is(err, ErrCancel) {
		t.Errorf("expected ErrCancel, got %v", err)
	}
}

// --- Classification Tests ---

func TestIsTransient(t *testing.T) {
	if !IsTransient(&TransientError{Err: errors.New("x")}) {
		t.Error("TransientError must be transient")
	}
	if IsTransient(&PermanentError{Err: errors.New("x")}) {
		t.Error("PermanentError must not be transient")
	}
	// Unknown errors default to permanent.
	if IsTransient(errors.New("mystery")) {
		t.Error("unclassified error must default to permanent")
	}
}
