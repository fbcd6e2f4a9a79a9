package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit record: %w", TimeoutError("submit invoice", context.DeadlineExceeded))

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrRemoteAPI))
	assert.Equal(t, CodeTimeout, ErrorCode(err))
}

func TestDomainError_Message(t *testing.T) {
	assert.Equal(t, "order has no customer document", ValidationError("order has no customer document").Error())
	assert.Equal(t, "refresh failed: boom", AuthenticationError("refresh failed", errors.New("boom")).Error())
}

func TestRemoteAPIError(t *testing.T) {
	var err error = NewRemoteAPIError("get invoice", 502, `{"error":"bad gateway"}`)
	wrapped := fmt.Errorf("sync: %w", err)

	assert.True(t, errors.Is(wrapped, ErrRemoteAPI))
	assert.False(t, errors.Is(wrapped, ErrTimeout))

	var remote *RemoteAPIError
	assert.True(t, errors.As(wrapped, &remote))
	assert.Equal(t, 502, remote.StatusCode)
	assert.Contains(t, remote.Error(), "status 502")
	assert.Equal(t, CodeRemoteAPI, ErrorCode(wrapped))
}

func TestErrorCode_Plain(t *testing.T) {
	assert.Empty(t, ErrorCode(errors.New("plain")))
	assert.Equal(t, CodeConflict, ErrorCode(ConflictError("duplicate order")))
}

func TestErrorCode_OuterDomainCodeWins(t *testing.T) {
	remote := NewRemoteAPIError("refresh_token", 400, `{"error":"invalid_grant"}`)
	err := fmt.Errorf("refresh: %w", AuthenticationError("ERP rejected the refresh token", remote))

	assert.Equal(t, CodeAuthentication, ErrorCode(err))
	assert.True(t, errors.Is(err, ErrAuthentication))

	var got *RemoteAPIError
	assert.True(t, errors.As(err, &got))
	assert.Equal(t, 400, got.StatusCode)
}
