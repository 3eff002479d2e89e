package memremote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/model"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
)

func TestStore_CRUDAndScope(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed(remote.Wishlist,
		map[string]any{"email": "a@x.com", "productId": "p1"},
		map[string]any{"email": "b@x.com", "productId": "p2"},
	)

	id, err := s.Create(ctx, remote.Wishlist, model.WishlistEntry{OwnerEmail: "a@x.com", ProductID: "p3"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	docs, err := s.ListScoped(ctx, remote.Wishlist, "a@x.com")
	require.NoError(t, err)
	entries, err := remote.DecodeAll[model.WishlistEntry](docs)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id, entries[1].ID)

	require.NoError(t, s.Update(ctx, remote.Wishlist, id, map[string]any{"name": "Mug", "_id": "ignored"}))
	raw, err := s.Get(ctx, remote.Wishlist, id)
	require.NoError(t, err)
	got, err := remote.Decode[model.WishlistEntry](raw)
	require.NoError(t, err)
	assert.Equal(t, "Mug", got.Name)
	assert.Equal(t, id, got.ID)

	require.NoError(t, s.Delete(ctx, remote.Wishlist, id))
	err = s.Delete(ctx, remote.Wishlist, id)
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindNotFound))

	_, err = s.ListScoped(ctx, remote.Products, "x")
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindInvalid))

	assert.Equal(t, 1, s.Calls(MethodCreate))
	assert.Equal(t, 2, s.Calls(MethodDelete))
	assert.Equal(t, 7, s.TotalCalls())
}

func TestStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	ids := s.Seed(remote.Cart, map[string]any{"userEmail": "a@x.com"}, map[string]any{"userEmail": "a@x.com"})

	boom := errors.New("boom")
	s.FailID(MethodDelete, remote.Cart, ids[0], boom)
	assert.ErrorIs(t, s.Delete(ctx, remote.Cart, ids[0]), boom)
	assert.NoError(t, s.Delete(ctx, remote.Cart, ids[1]))

	s.Fail(MethodList, remote.Cart, boom)
	_, err := s.List(ctx, remote.Cart)
	assert.ErrorIs(t, err, boom)

	s.Heal()
	docs, err := s.List(ctx, remote.Cart)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStore_OmitCreateIDAndCancelledContext(t *testing.T) {
	s := New()
	s.OmitCreateID = true
	id, err := s.Create(context.Background(), remote.Cart, map[string]any{"quantity": 1})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, 1, s.Len(remote.Cart))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.List(ctx, remote.Cart)
	assert.ErrorIs(t, err, context.Canceled)
}
