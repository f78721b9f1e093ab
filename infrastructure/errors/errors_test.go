package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error without cause",
			err:  New(SocketClosed, "test message", http.StatusServiceUnavailable),
			want: "[Socket.Closed] test message",
		},
		{
			name: "error with cause",
			err:  Wrap(ThreadError, "test message", http.StatusInternalServerError, errors.New("underlying")),
			want: "[Thread.Error] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(ThreadError, "test", http.StatusInternalServerError, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestError_WithDetails(t *testing.T) {
	err := New(ConnectionInvalidUrl, "test", http.StatusBadRequest)
	err.WithDetails("field", "username").WithDetails("reason", "too short")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "username" {
		t.Errorf("Details[field] = %v, want username", err.Details["field"])
	}
	if err.Details["reason"] != "too short" {
		t.Errorf("Details[reason] = %v, want too short", err.Details["reason"])
	}
}

func TestAs(t *testing.T) {
	base := ErrSocketClosed()
	wrapped := errors.New("context: " + base.Error())
	if As(wrapped) != nil {
		t.Fatalf("expected plain wrapped string error not to unwrap to *Error")
	}
	if As(base) == nil {
		t.Fatalf("expected As to recover *Error")
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(ErrMalformedUrl("://bad", nil)); got != http.StatusBadRequest {
		t.Fatalf("HTTPStatus() = %d, want %d", got, http.StatusBadRequest)
	}
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("HTTPStatus() = %d, want %d", got, http.StatusInternalServerError)
	}
}
