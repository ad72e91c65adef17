package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(ErrCodeOutOfRange, "field", "priority must be 0 <= x <= 15").
		WithMetadata("field", "priority")

	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.False(t, errors.Is(err, ErrWrongType))

	wrapped := fmt.Errorf("load internet: %w", err)
	assert.True(t, errors.Is(wrapped, ErrOutOfRange))
	assert.Equal(t, ErrCodeOutOfRange, GetErrorCode(wrapped))
	assert.Equal(t, "priority", err.Metadata["field"])
}

func TestWrapErrorKeepsCause(t *testing.T) {
	assert.Nil(t, WrapError(nil, ErrCodeIO, "ingest", "read"))

	err := WrapError(fs.ErrNotExist, ErrCodeIO, "ingest", "cannot open profile document")
	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, fs.ErrNotExist.Error(), err.Details)
	assert.Equal(t, "[IO_ERROR] ingest: cannot open profile document", err.Error())
}

func TestGetErrorCodeForForeignError(t *testing.T) {
	err := errors.New("boom")
	assert.False(t, IsDBIError(err))
	assert.Equal(t, ErrCodeInternalError, GetErrorCode(err))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatusCode(err))
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeMissingField, http.StatusBadRequest},
		{ErrCodeNoChargingProfile, http.StatusNotFound},
		{ErrCodeAPNAlreadyLoaded, http.StatusConflict},
		{ErrCodeStoreFull, http.StatusInsufficientStorage},
		{ErrCodeNotSupported, http.StatusNotImplemented},
		{ErrCodeNoBackendSelected, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, NewError(tt.code, "", "").HTTPStatusCode())
		})
	}
}
