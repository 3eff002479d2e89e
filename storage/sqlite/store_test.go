package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
)

func newTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	config := DefaultConfig(filepath.Join(t.TempDir(), "documents.db"))
	config.Logger = logging.Discard()
	store, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func decodeDoc(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestDocumentStore_InsertAssignsID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, "cart", json.RawMessage(`{"userEmail":"a@x.com","productId":"p1","quantity":2}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	raw, err := store.Get(ctx, "cart", id)
	require.NoError(t, err)
	doc := decodeDoc(t, raw)
	assert.Equal(t, id, doc["_id"])
	assert.Equal(t, "p1", doc["productId"])
	assert.EqualValues(t, 2, doc["quantity"])
}

func TestDocumentStore_InsertKeepsProvidedID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, "products", json.RawMessage(`{"_id":"thermo-1","name":"Classic"}`))
	require.NoError(t, err)
	assert.Equal(t, "thermo-1", id)

	_, err = store.Insert(ctx, "products", json.RawMessage(`{"_id":"thermo-1","name":"Again"}`))
	require.Error(t, err)
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindInvalid))
	assert.ErrorIs(t, err, ErrDuplicateID)

	// same id in another collection is fine
	_, err = store.Insert(ctx, "thermos", json.RawMessage(`{"_id":"thermo-1"}`))
	assert.NoError(t, err)
}

func TestDocumentStore_InsertRejectsNonObject(t *testing.T) {
	store := newTestStore(t)
	for _, body := range []string{`[]`, `"text"`, `null`, `{`} {
		_, err := store.Insert(context.Background(), "cart", json.RawMessage(body))
		require.Error(t, err, body)
		assert.True(t, syncErrors.IsKind(err, syncErrors.KindInvalid), body)
	}
}

func TestDocumentStore_ListOrderAndScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		_, err := store.Insert(ctx, "products", json.RawMessage(`{"name":"`+name+`"}`))
		require.NoError(t, err)
	}
	_, err := store.Insert(ctx, "cart", json.RawMessage(`{"name":"other"}`))
	require.NoError(t, err)

	docs, err := store.List(ctx, "products")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "first", decodeDoc(t, docs[0])["name"])
	assert.Equal(t, "third", decodeDoc(t, docs[2])["name"])

	empty, err := store.List(ctx, "orders")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestDocumentStore_ListWhere(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []string{
		`{"email":"user1@x.com","productId":"p1"}`,
		`{"email":"user2@x.com","productId":"p2"}`,
		`{"email":"user1@x.com","productId":"p3"}`,
	}
	for _, d := range docs {
		_, err := store.Insert(ctx, "wishlist", json.RawMessage(d))
		require.NoError(t, err)
	}

	got, err := store.ListWhere(ctx, "wishlist", "email", "user1@x.com")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", decodeDoc(t, got[0])["productId"])
	assert.Equal(t, "p3", decodeDoc(t, got[1])["productId"])

	none, err := store.ListWhere(ctx, "wishlist", "email", "nobody@x.com")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = store.ListWhere(ctx, "wishlist", "email') OR 1=1 --", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestDocumentStore_Merge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, "cart", json.RawMessage(`{"productId":"p1","quantity":1,"name":"Mug"}`))
	require.NoError(t, err)

	require.NoError(t, store.Merge(ctx, "cart", id, json.RawMessage(`{"quantity":4,"_id":"hijack"}`)))

	raw, err := store.Get(ctx, "cart", id)
	require.NoError(t, err)
	doc := decodeDoc(t, raw)
	assert.EqualValues(t, 4, doc["quantity"])
	assert.Equal(t, "Mug", doc["name"], "untouched fields survive")
	assert.Equal(t, id, doc["_id"], "_id cannot be overwritten")

	err = store.Merge(ctx, "cart", "missing", json.RawMessage(`{"quantity":2}`))
	require.Error(t, err)
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindNotFound))

	err = store.Merge(ctx, "cart", id, json.RawMessage(`[1,2]`))
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindInvalid))
}

func TestDocumentStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, "wishlist", json.RawMessage(`{"productId":"p1"}`))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "wishlist", id))

	_, err = store.Get(ctx, "wishlist", id)
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindNotFound))
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Delete(ctx, "wishlist", id)
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindNotFound))
}

func TestDocumentStore_Seed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := map[string][]json.RawMessage{
		"products": {
			json.RawMessage(`{"_id":"p1","name":"Classic","price":45}`),
			json.RawMessage(`{"_id":"p2","name":"Travel","price":60}`),
		},
		"thermos": {
			json.RawMessage(`{"name":"Hero"}`),
		},
	}

	n, err := store.Seed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// products carry fixed ids so a second run skips them
	n, err = store.Seed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := store.Count(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDocumentStore_SeedRollsBackOnInvalidDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Seed(ctx, map[string][]json.RawMessage{
		"products": {json.RawMessage(`{"_id":"p1"}`), json.RawMessage(`[]`)},
	})
	require.Error(t, err)
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindInvalid))

	count, err := store.Count(ctx, "products")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDocumentStore_Close(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "second close is a no-op")

	_, err := store.List(context.Background(), "cart")
	assert.True(t, errors.Is(err, ErrStoreClosed))
	assert.True(t, syncErrors.IsRetryable(err))

	_, err = store.Insert(context.Background(), "cart", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.Equal(t, 0, store.Stats().OpenConnections)
}

func TestDocumentStore_ContextCancellation(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Insert(ctx, "cart", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, context.Canceled)

	err = store.Merge(ctx, "cart", "x", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDocumentStore_ConcurrentInserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Insert(ctx, "orders", json.RawMessage(`{"status":"pending"}`))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := store.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestDocumentStore_WALAndPoolDefaults(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wal.db")

	config := DefaultConfig(dbPath)
	assert.True(t, config.EnableWAL)
	assert.Equal(t, "documents", config.TableName)
	assert.Equal(t, Pool{MaxOpen: 25, MaxIdle: 5, MaxLifetime: time.Hour, MaxIdleTime: 5 * time.Minute}, config.Pool)
	assert.Equal(t, dbPath, config.DataSourceName, "pragmas are added when connecting")
	assert.Contains(t, config.dsn(), "_journal_mode=WAL")

	config.Logger = logging.Discard()
	store, err := New(config)
	require.NoError(t, err)
	defer store.Close()

	var journalMode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, store.db.QueryRow("PRAGMA busy_timeout;").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	_, err = store.Insert(context.Background(), "cart", json.RawMessage(`{"quantity":1}`))
	require.NoError(t, err)
	_, err = os.Stat(dbPath + "-wal")
	assert.NoError(t, err, "WAL file should exist when WAL mode is active")
}

func TestDocumentStore_Config(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("memory database uses a single connection", func(t *testing.T) {
		config := &Config{DataSourceName: ":memory:", Logger: logging.Discard()}
		store, err := New(config)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, 1, config.Pool.MaxOpen)
		assert.Equal(t, 1, config.Pool.MaxIdle)

		id, err := store.Insert(context.Background(), "users", json.RawMessage(`{"email":"a@x.com"}`))
		require.NoError(t, err)
		_, err = store.Get(context.Background(), "users", id)
		assert.NoError(t, err)
	})

	t.Run("custom table name", func(t *testing.T) {
		config := &Config{DataSourceName: ":memory:", TableName: "mock_docs", Logger: logging.Discard()}
		store, err := New(config)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, "mock_docs", store.tableName)
	})

	t.Run("table name must be an identifier", func(t *testing.T) {
		_, err := New(&Config{DataSourceName: ":memory:", TableName: "docs; DROP TABLE x", Logger: logging.Discard()})
		assert.Error(t, err)
	})

	t.Run("existing query parameters are extended", func(t *testing.T) {
		config := DefaultConfig("file:test.db?cache=shared")
		assert.Equal(t, "file:test.db?cache=shared&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", config.dsn())

		config.EnableWAL = false
		assert.Equal(t, "file:test.db?cache=shared", config.dsn())
	})
}
