package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSyncError_Error(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		component string
		code      ErrorCode
		err       error
		want      string
	}{
		{
			name:      "with component and code",
			op:        OpStore,
			component: "store",
			code:      ErrCodeStorageFailure,
			err:       fmt.Errorf("disk full"),
			want:      "store operation failed in store component [STORAGE_FAILURE]: disk full",
		},
		{
			name:      "with component no code",
			op:        OpUpload,
			component: "transport",
			err:       fmt.Errorf("connection reset"),
			want:      "upload operation failed in transport component: connection reset",
		},
		{
			name: "without component or code",
			op:   OpRefresh,
			err:  fmt.Errorf("boom"),
			want: "refresh operation failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &SyncError{Op: tt.op, Component: tt.component, Err: tt.err, Code: tt.code}
			if got := e.Error(); got != tt.want {
				t.Errorf("SyncError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaxonomyConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *SyncError
		code      ErrorCode
		retryable bool
		sentinel  error
	}{
		{"disabled", NewDisabledError(OpRecordEvent), ErrCodeDisabled, false, ErrDisabled},
		{"oversize", NewOversizeError(OpRecordEvent, 70000, 65536), ErrCodeOversize, false, ErrOversize},
		{"network", NewNetworkError(OpUpload, fmt.Errorf("timeout")), ErrCodeTransientNetwork, true, nil},
		{"server", NewServerError(OpUpload, 503), ErrCodeTransientNetwork, true, nil},
		{"permanent", NewPermanentRequestError(OpUpload, 400), ErrCodePermanentRequest, false, nil},
		{"duplicate", NewDuplicateFetchSuppressed(OpRefresh), ErrCodeDuplicateFetch, false, ErrDuplicateFetchSuppressed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", tt.err.Retryable, tt.retryable)
			}
			if tt.sentinel != nil && !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
		})
	}
}

func TestOversizeMetadata(t *testing.T) {
	e := NewOversizeError(OpRecordEvent, 70000, 65536)
	if e.Metadata["size_bytes"] != 70000 || e.Metadata["limit_bytes"] != 65536 {
		t.Errorf("unexpected metadata %v", e.Metadata)
	}
	if !IsOversize(fmt.Errorf("wrapped: %w", e)) {
		t.Error("IsOversize() = false for wrapped oversize error")
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{http.StatusOK, "", false},
		{http.StatusAccepted, "", false},
		{http.StatusBadRequest, ErrCodePermanentRequest, false},
		{http.StatusRequestEntityTooLarge, ErrCodePermanentRequest, false},
		{http.StatusInternalServerError, ErrCodeTransientNetwork, true},
		{http.StatusServiceUnavailable, ErrCodeTransientNetwork, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromStatus(OpUpload, tt.status)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("FromStatus(%d) = %v, want nil", tt.status, err)
				}
				return
			}
			if got := CodeOf(err); got != tt.code {
				t.Errorf("CodeOf() = %v, want %v", got, tt.code)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if status, ok := StatusCode(err); !ok || status != tt.status {
				t.Errorf("StatusCode() = %d, %v", status, ok)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if !IsPermanent(NewPermanentRequestError(OpUpload, 404)) {
		t.Error("IsPermanent() = false for 404")
	}
	if IsPermanent(NewServerError(OpUpload, 500)) {
		t.Error("IsPermanent() = true for 500")
	}
	if !IsTransient(NewNetworkError(OpRefresh, fmt.Errorf("dial"))) {
		t.Error("IsTransient() = false for network error")
	}
	if !IsDisabled(NewDisabledError(OpRecordEvent)) {
		t.Error("IsDisabled() = false")
	}
	if CodeOf(fmt.Errorf("plain")) != "" {
		t.Error("CodeOf() returned a code for a plain error")
	}
	if _, ok := StatusCode(fmt.Errorf("plain")); ok {
		t.Error("StatusCode() ok for a plain error")
	}
}

func TestSyncError_Unwrap(t *testing.T) {
	originalErr := fmt.Errorf("original error")
	e := &SyncError{Op: OpStore, Err: originalErr}

	if unwrapped := e.Unwrap(); unwrapped != originalErr {
		t.Errorf("SyncError.Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable sync error", NewRetryable(OpUpload, fmt.Errorf("temporary error")), true},
		{"non-retryable sync error", New(OpUpload, fmt.Errorf("permanent error")), false},
		{"non-sync error", fmt.Errorf("regular error"), false},
		{"wrapped retryable error", fmt.Errorf("wrapped: %w", NewRetryable(OpUpload, fmt.Errorf("temporary"))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapOpComponent(t *testing.T) {
	if WrapOpComponent(nil, OpStore, "sqlite-store") != nil {
		t.Fatal("WrapOpComponent(nil) should return nil")
	}

	inner := NewServerError(OpTransport, 502)
	err := WrapOpComponent(inner, OpUpload, "upload-scheduler")

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatal("errors.As() failed to detect SyncError")
	}
	if syncErr.Op != OpUpload || syncErr.Component != "upload-scheduler" {
		t.Errorf("got op=%v component=%v", syncErr.Op, syncErr.Component)
	}
	if syncErr.Code != ErrCodeTransientNetwork || !syncErr.Retryable {
		t.Errorf("inner classification not preserved: %+v", syncErr)
	}
	if !errors.Is(err, inner) {
		t.Error("wrapped error does not unwrap to inner error")
	}
}
