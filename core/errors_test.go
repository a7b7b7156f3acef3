package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrTimeout is retryable", ErrTimeout, true},
		{"ErrConnectionFailed is retryable", ErrConnectionFailed, true},
		{"ErrRequestFailed is retryable", ErrRequestFailed, true},
		{"wrapped retryable error is retryable", fmt.Errorf("operation failed: %w", ErrTimeout), true},
		{"ErrCardNotFound is not retryable", ErrCardNotFound, false},
		{"ErrInvalidConfiguration is not retryable", ErrInvalidConfiguration, false},
		{"custom error is not retryable", errors.New("custom error"), false},
		{"nil error is not retryable", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsRetryable(tt.err); result != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrCardNotFound is not found", ErrCardNotFound, true},
		{"ErrStageNotFound is not found", ErrStageNotFound, true},
		{"wrapped not found error is detected", fmt.Errorf("failed to locate: %w", ErrCardNotFound), true},
		{"ErrTimeout is not a not-found error", ErrTimeout, false},
		{"ErrInvalidConfiguration is not a not-found error", ErrInvalidConfiguration, false},
		{"custom error is not a not-found error", errors.New("something else"), false},
		{"nil error is not a not-found error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsNotFound(tt.err); result != tt.expected {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsConfigurationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrInvalidConfiguration is configuration error", ErrInvalidConfiguration, true},
		{"ErrMissingConfiguration is configuration error", ErrMissingConfiguration, true},
		{"wrapped configuration error is detected", fmt.Errorf("config validation failed: %w", ErrInvalidConfiguration), true},
		{"ErrCardNotFound is not configuration error", ErrCardNotFound, false},
		{"custom error is not configuration error", errors.New("random error"), false},
		{"nil error is not configuration error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsConfigurationError(tt.err); result != tt.expected {
				t.Errorf("IsConfigurationError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsStateError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrAlreadyStarted is state error", ErrAlreadyStarted, true},
		{"ErrNotInitialized is state error", ErrNotInitialized, true},
		{"ErrAlreadyRegistered is state error", ErrAlreadyRegistered, true},
		{"ErrInvalidTransition is state error", ErrInvalidTransition, true},
		{"ErrStackUnderflow is state error", ErrStackUnderflow, true},
		{"wrapped state error is detected", fmt.Errorf("cannot proceed: %w", ErrNotInitialized), true},
		{"ErrTimeout is not state error", ErrTimeout, false},
		{"ErrCardNotFound is not state error", ErrCardNotFound, false},
		{"custom error is not state error", errors.New("some other error"), false},
		{"nil error is not state error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsStateError(tt.err); result != tt.expected {
				t.Errorf("IsStateError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsCircuitOpenAndBudgetExceeded(t *testing.T) {
	if !IsCircuitOpen(ErrCircuitOpen) {
		t.Error("ErrCircuitOpen should be detected as circuit-open")
	}
	if IsCircuitOpen(ErrBudgetExceeded) {
		t.Error("ErrBudgetExceeded should not be detected as circuit-open")
	}
	if !IsBudgetExceeded(fmt.Errorf("abort: %w", ErrBudgetExceeded)) {
		t.Error("wrapped ErrBudgetExceeded should be detected as budget-exceeded")
	}
}

func TestErrorWrapping(t *testing.T) {
	baseErr := ErrCardNotFound
	wrappedOnce := fmt.Errorf("failed to find card 'test': %w", baseErr)
	wrappedTwice := fmt.Errorf("operation failed: %w", wrappedOnce)

	if !IsNotFound(baseErr) {
		t.Error("Base error should be detected as not-found")
	}
	if !IsNotFound(wrappedOnce) {
		t.Error("Once-wrapped error should be detected as not-found")
	}
	if !IsNotFound(wrappedTwice) {
		t.Error("Twice-wrapped error should be detected as not-found")
	}
	if !errors.Is(wrappedTwice, ErrCardNotFound) {
		t.Error("errors.Is should work through multiple wrapping layers")
	}
}

func TestErrorCombinations(t *testing.T) {
	if IsConfigurationError(ErrTimeout) {
		t.Error("ErrTimeout should not be a configuration error")
	}
	if IsStateError(ErrInvalidConfiguration) {
		t.Error("ErrInvalidConfiguration should not be a state error")
	}
}

func BenchmarkIsRetryable(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", ErrTimeout)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsRetryable(err)
	}
}

func BenchmarkIsNotFound(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", ErrCardNotFound)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsNotFound(err)
	}
}
