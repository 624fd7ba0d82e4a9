package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ErrCodeOK},
		{"plain", stderrors.New("boom"), ErrCodeInternal},
		{"direct", ConfigNotFound("lobby"), ErrCodeNotFound},
		{"wrapped", fmt.Errorf("load: %w", StoreUnavailable("down", nil)), ErrCodeStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetCode(tt.err))
		})
	}
}

func TestServiceError_ToGRPCStatus(t *testing.T) {
	tests := []struct {
		err  *ServiceError
		want codes.Code
	}{
		{VersionNotFound("a", "v1"), codes.NotFound},
		{ValidationFailure("name", "empty"), codes.InvalidArgument},
		{StaleHead("a", "v1", "v2"), codes.Aborted},
		{StoreUnavailable("redis down", nil), codes.Unavailable},
		{CorruptedData("bad crc", nil), codes.DataLoss},
		{PartialFailure("restore", []string{"b"}), codes.Unknown},
		{InternalError("oops", nil), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.ToGRPCStatus().Code())
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := StoreUnavailable("write failed", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "write failed: connection refused", err.Error())
	assert.True(t, IsServiceError(fmt.Errorf("outer: %w", err)))
	assert.True(t, IsNotFound(BackupNotFound("b1")))
	assert.False(t, IsNotFound(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", ConfigNotFound("lobby"), http.StatusNotFound},
		{"validation", ValidationFailure("days", "must be positive"), http.StatusBadRequest},
		{"conflict", StaleHead("a", "v1", "v2"), http.StatusConflict},
		{"wrapped unavailable", fmt.Errorf("read: %w", StoreUnavailable("down", nil)), http.StatusServiceUnavailable},
		{"partial", PartialFailure("seed", []string{"menu"}), http.StatusInternalServerError},
		{"deadline", fmt.Errorf("check: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"grpc status", status.Error(codes.ResourceExhausted, "slow down"), http.StatusTooManyRequests},
		{"plain", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
