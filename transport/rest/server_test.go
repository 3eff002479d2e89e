package rest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/storage/sqlite"
	"github.com/c0deZ3R0/go-storefront-sync/transport/sse"
)

type recordingPublisher struct {
	mu   sync.Mutex
	seen []sse.Notification
}

func (p *recordingPublisher) Publish(n sse.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, n)
}

func (p *recordingPublisher) notifications() []sse.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sse.Notification(nil), p.seen...)
}

func newTestServer(t *testing.T, publisher sse.Publisher, opts ...ServerOption) (*httptest.Server, *sqlite.DocumentStore) {
	t.Helper()
	config := sqlite.DefaultConfig(filepath.Join(t.TempDir(), "mockapi.db"))
	config.Logger = logging.Discard()
	store, err := sqlite.New(config)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts = append([]ServerOption{WithScopedCollection("wishlist", "email")}, opts...)
	server := httptest.NewServer(NewServer(store, publisher, logging.Discard(), opts...))
	t.Cleanup(server.Close)
	return server, store
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func getList(t *testing.T, url string) []map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var docs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&docs))
	return docs
}

func TestServer_CreateAcknowledgesInsert(t *testing.T) {
	publisher := &recordingPublisher{}
	server, _ := newTestServer(t, publisher)

	status, ack := doJSON(t, http.MethodPost, server.URL+"/cart", `{"userEmail":"a@x.com","productId":"p1","quantity":1}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, ack["acknowledged"])
	id, _ := ack["insertedId"].(string)
	require.NotEmpty(t, id)

	status, doc := doJSON(t, http.MethodGet, server.URL+"/cart/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, doc["_id"])
	assert.Equal(t, "p1", doc["productId"])

	notes := publisher.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "cart", notes[0].Collection)
	assert.Equal(t, sse.Created, notes[0].Action)
	assert.Equal(t, id, notes[0].ID)
}

func TestServer_ListEmptyCollectionIsArray(t *testing.T) {
	server, _ := newTestServer(t, nil)
	resp, err := http.Get(server.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "[]", string(body))
}

func TestServer_ScopedWishlistRead(t *testing.T) {
	server, _ := newTestServer(t, nil)
	for _, body := range []string{
		`{"email":"user1@x.com","productId":"p1"}`,
		`{"email":"user2@x.com","productId":"p2"}`,
		`{"email":"user1@x.com","productId":"p3"}`,
	} {
		status, _ := doJSON(t, http.MethodPost, server.URL+"/wishlist", body)
		require.Equal(t, http.StatusCreated, status)
	}

	docs := getList(t, server.URL+"/wishlist/user1@x.com")
	require.Len(t, docs, 2)
	assert.Equal(t, "p1", docs[0]["productId"])
	assert.Equal(t, "p3", docs[1]["productId"])

	assert.Empty(t, getList(t, server.URL+"/wishlist/nobody@x.com"))
	assert.Len(t, getList(t, server.URL+"/wishlist"), 3)
}

func TestServer_MergeAndDelete(t *testing.T) {
	publisher := &recordingPublisher{}
	server, _ := newTestServer(t, publisher)

	_, ack := doJSON(t, http.MethodPost, server.URL+"/cart", `{"productId":"p1","quantity":1,"name":"Mug"}`)
	id := ack["insertedId"].(string)

	status, res := doJSON(t, http.MethodPut, server.URL+"/cart/"+id, `{"quantity":3}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, res["modifiedCount"])

	status, _ = doJSON(t, http.MethodPatch, server.URL+"/cart/"+id, `{"color":"red"}`)
	require.Equal(t, http.StatusOK, status)

	_, doc := doJSON(t, http.MethodGet, server.URL+"/cart/"+id, "")
	assert.EqualValues(t, 3, doc["quantity"])
	assert.Equal(t, "red", doc["color"])
	assert.Equal(t, "Mug", doc["name"])

	status, _ = doJSON(t, http.MethodPut, server.URL+"/cart/missing", `{"quantity":3}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, res = doJSON(t, http.MethodDelete, server.URL+"/cart/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, res["deletedCount"])

	status, _ = doJSON(t, http.MethodDelete, server.URL+"/cart/"+id, "")
	assert.Equal(t, http.StatusNotFound, status)

	var actions []sse.Action
	for _, n := range publisher.notifications() {
		actions = append(actions, n.Action)
	}
	assert.Equal(t, []sse.Action{sse.Created, sse.Updated, sse.Updated, sse.Deleted}, actions)
}

func TestServer_RejectsBadRequests(t *testing.T) {
	server, _ := newTestServer(t, nil, WithMaxRequestSize(64))

	status, body := doJSON(t, http.MethodGet, server.URL+"/bananas", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown collection", body["error"])

	status, _ = doJSON(t, http.MethodPost, server.URL+"/cart", `[1,2,3]`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodPost, server.URL+"/cart", `{"broken":`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodPost, server.URL+"/cart", `{"note":"`+strings.Repeat("x", 200)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/cart", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestServer_AcceptsGzipBody(t *testing.T) {
	server, _ := newTestServer(t, nil)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(`{"productId":"p9"}`))
	gz.Close()

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/cart", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	docs := getList(t, server.URL+"/cart")
	require.Len(t, docs, 1)
	assert.Equal(t, "p9", docs[0]["productId"])
}

func TestServer_Healthz(t *testing.T) {
	server, _ := newTestServer(t, nil)
	status, body := doJSON(t, http.MethodGet, server.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_EventsRouteNeedsBroker(t *testing.T) {
	server, _ := newTestServer(t, &recordingPublisher{})
	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "events is treated as an unknown collection")

	broker := sse.NewBroker(logging.Discard())
	broker.Close()
	withBroker, _ := newTestServer(t, broker)
	resp, err = http.Get(withBroker.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClientAgainstServer(t *testing.T) {
	server, _ := newTestServer(t, nil)
	client, err := NewClient(server.URL, WithLogger(logging.Discard()))
	require.NoError(t, err)
	ctx := context.Background()

	id, err := client.Create(ctx, "wishlist", map[string]any{"email": "a+b@x.com", "productId": "p1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	docs, err := client.ListScoped(ctx, "wishlist", "a+b@x.com")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, client.Update(ctx, "wishlist", id, map[string]any{"inStock": false}))
	require.NoError(t, client.Delete(ctx, "wishlist", id))

	_, err = client.Get(ctx, "wishlist", id)
	require.NoError(t, err, "wishlist GET by key is a scoped list, so a stale id yields an empty list")

	err = client.Delete(ctx, "wishlist", id)
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindNotFound))

	_, err = client.List(ctx, "nope")
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindNotFound))
}

func TestDecodeSeed(t *testing.T) {
	seed, err := DecodeSeed([]byte(`{"products":[{"_id":"p1"}],"thermos":[]}`))
	require.NoError(t, err)
	assert.Len(t, seed["products"], 1)

	_, err = DecodeSeed([]byte(`[1]`))
	assert.ErrorIs(t, err, ErrNotJSON)

	_, err = DecodeSeed([]byte(`{"bananas":[]}`))
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindInvalid))
}
