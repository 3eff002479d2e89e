package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SyncError
		want string
	}{
		{
			name: "component and code",
			err: &SyncError{Op: OpFetchCart, Component: "cart", Code: ErrCodeNetworkFailure,
				Err: fmt.Errorf("connection refused")},
			want: "fetch_cart in cart failed [NETWORK_FAILURE]: connection refused",
		},
		{
			name: "unauthenticated",
			err:  NewUnauthenticatedError(OpAddToCart, ""),
			want: "add_to_cart failed [UNAUTHENTICATED]: no signed-in identity",
		},
		{
			name: "no cause",
			err:  &SyncError{Op: OpDelete},
			want: "delete failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestConstructors(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")

	network := NewNetworkError(OpTransport, cause)
	assert.Equal(t, KindUnavailable, network.Kind)
	assert.True(t, network.Retryable)
	assert.ErrorIs(t, network, cause)

	invalid := NewValidationError(OpPlaceOrder, fmt.Errorf("missing phone"))
	assert.Equal(t, KindInvalid, invalid.Kind)
	assert.Equal(t, ErrCodeValidationFailure, invalid.Code)
	assert.False(t, invalid.Retryable)

	unauth := NewUnauthenticatedError(OpClearCart, "cart")
	assert.ErrorIs(t, unauth, ErrUnauthenticated)
	assert.True(t, IsKind(unauth, KindUnauthenticated))
}

func TestE(t *testing.T) {
	meta := map[string]interface{}{"line": "l1"}
	err := E(OpRemoveFromCart, Component("cart"), KindNotFound, "line l1", fmt.Errorf("gone"), meta)

	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, OpRemoveFromCart, syncErr.Op)
	assert.Equal(t, "cart", syncErr.Component)
	assert.Equal(t, KindNotFound, syncErr.Kind)
	assert.Equal(t, "line l1: gone", syncErr.Err.Error())
	assert.Equal(t, meta, syncErr.Metadata)
	assert.False(t, syncErr.Retryable)

	assert.Nil(t, E())
}

func TestE_InheritsKind(t *testing.T) {
	inner := NewNetworkError(OpFetch, fmt.Errorf("503"))
	outer := E(OpFetchWishlist, Component("wishlist"), inner)

	assert.True(t, IsKind(outer, KindUnavailable))
	assert.True(t, IsRetryable(outer))

	explicit := E(OpFetchWishlist, KindNotFound, inner)
	assert.True(t, IsKind(explicit, KindNotFound))
	assert.True(t, IsKind(explicit, KindUnavailable), "inner kinds stay visible")
	assert.False(t, IsRetryable(explicit))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRetryable(OpUpdate, fmt.Errorf("busy"))))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", E(OpCreate, KindUnavailable))))
	assert.False(t, IsRetryable(NewValidationError(OpCreate, fmt.Errorf("bad"))))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestStorageFailure(t *testing.T) {
	assert.NoError(t, StorageFailure(nil, OpStore, "sqlite-store"))

	err := StorageFailure(fmt.Errorf("disk full"), OpStore, "sqlite-store")
	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "sqlite-store", syncErr.Component)
	assert.Equal(t, KindInternal, syncErr.Kind)
	assert.Equal(t, ErrCodeStorageFailure, syncErr.Code)
}

func TestBatchError(t *testing.T) {
	cause := fmt.Errorf("timeout")
	be := &BatchError{
		Op:        OpClearCart,
		Failures:  map[string]error{"line-2": cause, "line-1": cause},
		Succeeded: []string{"line-3"},
	}

	assert.Equal(t, []string{"line-1", "line-2"}, be.FailedIDs())
	assert.ErrorIs(t, be, cause)
	assert.Equal(t,
		"clear_cart: 2 of 3 items failed [PARTIAL_BATCH_FAILURE]: line-1: timeout; line-2: timeout",
		be.Error())
}
