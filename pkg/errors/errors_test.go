package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeSuccess, http.StatusOK},
		{CodeInvalidParam, http.StatusBadRequest},
		{CodeValidationFailed, http.StatusBadRequest},
		{CodeNoValidChunks, http.StatusBadRequest},
		{CodeJobNotFound, http.StatusNotFound},
		{CodeUnsupportedMedia, http.StatusUnsupportedMediaType},
		{CodeTooManyRequests, http.StatusTooManyRequests},
		{CodeEmbeddingFailed, http.StatusBadGateway},
		{CodeRerankFailed, http.StatusBadGateway},
		{CodeLLMCallFailed, http.StatusBadGateway},
		{CodeStageTimeout, http.StatusGatewayTimeout},
		{CodeServiceUnavailable, http.StatusServiceUnavailable},
		{CodeVectorDBError, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus)
		})
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("milvus unavailable")
	appErr := Wrap(cause, CodeVectorDBError, "retrieving failed")

	assert.ErrorIs(t, appErr, cause)
	assert.Equal(t, "[5003] retrieving failed: milvus unavailable", appErr.Error())
	assert.Equal(t, "[1001] bad", New(CodeInvalidParam, "bad").Error())
}

func TestAsAppError(t *testing.T) {
	inner := New(CodeJobNotFound, "ingest job not found")
	wrapped := fmt.Errorf("lookup: %w", inner)

	require.True(t, IsAppError(wrapped))
	assert.Same(t, inner, AsAppError(wrapped))

	plain := stderrors.New("boom")
	assert.False(t, IsAppError(plain))
	got := AsAppError(plain)
	assert.Equal(t, CodeUnknown, got.Code)
	assert.ErrorIs(t, got, plain)
}

func TestWithDetail(t *testing.T) {
	e := New(CodeInvalidParam, "invalid").WithDetail("chunk_size must be positive")
	assert.Equal(t, "chunk_size must be positive", e.Detail)
}
