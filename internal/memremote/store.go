// Package memremote is an in-memory remote.Store for tests. It counts calls per method and can be
// told to fail specific calls.
package memremote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
)

// Method names a remote.Store method.
type Method string

const (
	MethodList       Method = "List"
	MethodListScoped Method = "ListScoped"
	MethodGet        Method = "Get"
	MethodCreate     Method = "Create"
	MethodUpdate     Method = "Update"
	MethodDelete     Method = "Delete"
)

type failKey struct {
	method     Method
	collection string
	id         string
}

// Store keeps documents in insertion order per collection.
type Store struct {
	mu       sync.Mutex
	docs     map[string][]map[string]any
	scopes   map[string]string
	calls    map[Method]int
	failures map[failKey]error
	nextID   int

	// OmitCreateID makes Create report "" like a backend that acknowledges without an id.
	OmitCreateID bool

	// OnCall runs before every call, outside the lock. Tests use it to block or reorder calls.
	OnCall func(method Method, collection string)
}

var _ remote.Store = (*Store)(nil)

// New returns an empty store with the storefront's scoped collections.
func New() *Store {
	return &Store{
		docs:     make(map[string][]map[string]any),
		scopes:   map[string]string{remote.Wishlist: "email", remote.Cart: "userEmail", remote.Orders: "userEmail"},
		calls:    make(map[Method]int),
		failures: make(map[failKey]error),
	}
}

// Seed stores docs as they are, assigning an _id to documents without one.
func (s *Store) Seed(collection string, docs ...any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		m, err := toMap(doc)
		if err != nil {
			panic(fmt.Sprintf("memremote: seed %s: %v", collection, err))
		}
		ids = append(ids, s.insert(collection, m))
	}
	return ids
}

// Fail makes every call of method on collection return err. A nil err clears the failure.
func (s *Store) Fail(method Method, collection string, err error) {
	s.FailID(method, collection, "", err)
}

// FailID makes calls of method on one document fail.
func (s *Store) FailID(method Method, collection, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := failKey{method, collection, id}
	if err == nil {
		delete(s.failures, k)
		return
	}
	s.failures[k] = err
}

// Heal clears every injected failure.
func (s *Store) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[failKey]error)
}

// Calls returns how many times method was called.
func (s *Store) Calls(method Method) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (s *Store) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[Method]int)
}

// Docs returns copies of the documents in collection.
func (s *Store) Docs(collection string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.docs[collection]))
	for _, d := range s.docs[collection] {
		out = append(out, clone(d))
	}
	return out
}

// Len returns the number of documents in collection.
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection])
}

func (s *Store) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if err := s.enter(ctx, MethodList, collection, ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return encodeAll(s.docs[collection]), nil
}

func (s *Store) ListScoped(ctx context.Context, collection, key string) ([]json.RawMessage, error) {
	if err := s.enter(ctx, MethodListScoped, collection, ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	field, ok := s.scopes[collection]
	if !ok {
		return nil, syncErrors.E(syncErrors.OpFetch, syncErrors.KindInvalid, fmt.Sprintf("collection %q is not scoped", collection))
	}
	var matched []map[string]any
	for _, d := range s.docs[collection] {
		if v, _ := d[field].(string); v == key {
			matched = append(matched, d)
		}
	}
	return encodeAll(matched), nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if err := s.enter(ctx, MethodGet, collection, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(collection, id)
	if i < 0 {
		return nil, notFound(syncErrors.OpFetch, collection, id)
	}
	data, _ := json.Marshal(s.docs[collection][i])
	return data, nil
}

func (s *Store) Create(ctx context.Context, collection string, doc any) (string, error) {
	if err := s.enter(ctx, MethodCreate, collection, ""); err != nil {
		return "", err
	}
	m, err := toMap(doc)
	if err != nil {
		return "", syncErrors.E(syncErrors.OpCreate, syncErrors.KindInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.insert(collection, m)
	if s.OmitCreateID {
		return "", nil
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := s.enter(ctx, MethodUpdate, collection, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(collection, id)
	if i < 0 {
		return notFound(syncErrors.OpUpdate, collection, id)
	}
	patch, err := toMap(fields)
	if err != nil {
		return syncErrors.E(syncErrors.OpUpdate, syncErrors.KindInvalid, err)
	}
	doc := s.docs[collection][i]
	for k, v := range patch {
		if k == "_id" {
			continue
		}
		doc[k] = v
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.enter(ctx, MethodDelete, collection, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(collection, id)
	if i < 0 {
		return notFound(syncErrors.OpDelete, collection, id)
	}
	docs := s.docs[collection]
	s.docs[collection] = append(docs[:i:i], docs[i+1:]...)
	return nil
}

// enter counts the call and returns an injected failure, if any.
func (s *Store) enter(ctx context.Context, method Method, collection, id string) error {
	if hook := s.OnCall; hook != nil {
		hook(method, collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if err := ctx.Err(); err != nil {
		return syncErrors.E(syncErrors.OpTransport, err)
	}
	if id != "" {
		if err, ok := s.failures[failKey{method, collection, id}]; ok {
			return err
		}
	}
	if err, ok := s.failures[failKey{method, collection, ""}]; ok {
		return err
	}
	return nil
}

func (s *Store) insert(collection string, m map[string]any) string {
	id, _ := m["_id"].(string)
	if id == "" {
		s.nextID++
		id = fmt.Sprintf("%s-%d", collection, s.nextID)
		m["_id"] = id
	}
	s.docs[collection] = append(s.docs[collection], m)
	return id
}

func (s *Store) index(collection, id string) int {
	for i, d := range s.docs[collection] {
		if d["_id"] == id {
			return i
		}
	}
	return -1
}

func notFound(op syncErrors.Operation, collection, id string) error {
	return syncErrors.E(op, syncErrors.KindNotFound, fmt.Sprintf("%s/%s not found", collection, id))
}

func toMap(doc any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("document is not an object")
	}
	return m, nil
}

func encodeAll(docs []map[string]any) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		data, _ := json.Marshal(d)
		out = append(out, data)
	}
	return out
}

func clone(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
