package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeDatabaseError, "connection failed"),
			expected: "[DATABASE_ERROR] connection failed",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeFormatError, "parse failed", errors.New("bad magic")),
			expected: "[FORMAT_ERROR] parse failed: bad magic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeIndexError, "index build failed", underlying)

	assert.Equal(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeDatabaseError, "error 1")
	err2 := New(CodeDatabaseError, "error 2")
	err3 := New(CodeStorageError, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestErrorCodeHelpers(t *testing.T) {
	assert.True(t, IsFormatError(Wrap(CodeFormatError, "truncated record", nil)))
	assert.False(t, IsFormatError(ErrNotFound))

	assert.True(t, IsIndexError(fmt.Errorf("open: %w", ErrIndexError)))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsStorageError(ErrStorageError))
	assert.True(t, IsDatabaseError(ErrDatabaseError))
	assert.False(t, IsDatabaseError(errors.New("plain")))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeDumpClosed, GetErrorCode(ErrDumpClosed))
	assert.Equal(t, CodeFormatError, GetErrorCode(fmt.Errorf("wrap: %w", ErrFormatError)))
	assert.Equal(t, CodeUnknown, GetErrorCode(errors.New("plain")))
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "heap dump is closed", GetErrorMessage(ErrDumpClosed))
	assert.Equal(t, "plain", GetErrorMessage(errors.New("plain")))
	assert.Equal(t, "", GetErrorMessage(nil))
}
