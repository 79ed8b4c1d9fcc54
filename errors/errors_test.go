package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := test.class.String(); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"conflict", fmt.Errorf("commit: %w", ErrConflict), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"canceled is not retried", context.Canceled, false},
		{"corrupted snapshot", ErrSnapshotCorrupted, false},
		{"timeout in message", fmt.Errorf("i/o timeout"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsTransient(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"fatal sentinel", ErrSnapshotCorrupted, ErrorFatal},
		{"invalid config", ErrInvalidConfig, ErrorInvalid},
		{"wrapped invalid", WrapInvalid(errors.New("bad driver"), "Config", "Validate", "driver check"), ErrorInvalid},
		{"wrapped fatal", WrapFatal(errors.New("boom"), "Store", "Load", "decode"), ErrorFatal},
		{"unknown defaults to transient", errors.New("something"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := Classify(test.err); result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("key missing")
	err := Wrap(base, "KVBackend", "Load", "snapshot read")

	if err.Error() != "KVBackend.Load: snapshot read failed: key missing" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should match base error")
	}
	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapTransient_PreservesChain(t *testing.T) {
	err := WrapTransient(ErrConflict, "Store", "Update", "commit")

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Component != "Store" || ce.Operation != "Update" {
		t.Errorf("unexpected context: %s.%s", ce.Component, ce.Operation)
	}
	if !errors.Is(err, ErrConflict) {
		t.Error("classified error should unwrap to ErrConflict")
	}
}

func TestRetryPolicy(t *testing.T) {
	rp := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	cfg := rp.ToRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.MaxAttempts)
	}
	if !cfg.AddJitter {
		t.Error("jitter should be enabled")
	}

	def := DefaultRetryPolicy().ToRetryConfig()
	if def.MaxAttempts != 10 || def.InitialDelay != 5*time.Millisecond {
		t.Errorf("default policy drifted: %+v", def)
	}
}
