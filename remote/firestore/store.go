// Package firestore implements remote.Store on Cloud Firestore, for deployments that keep the
// storefront documents there instead of behind the REST service.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
)

const component = syncErrors.Component("firestore-store")

// ErrUnscoped is returned by ListScoped for a collection without a scope field.
var ErrUnscoped = errors.New("collection has no scope field")

// DefaultScopeFields maps collections to the owner field matched by ListScoped.
func DefaultScopeFields() map[string]string {
	return map[string]string{
		remote.Wishlist: "email",
		remote.Cart:     "userEmail",
		remote.Orders:   "userEmail",
	}
}

// Config selects the Firebase project. An empty CredentialsFile uses Application Default
// Credentials, and FIRESTORE_EMULATOR_HOST is honored by the client library.
type Config struct {
	ProjectID       string
	CredentialsFile string
	ScopeFields     map[string]string
}

// Store is a remote.Store backed by a Firestore client.
type Store struct {
	client      *firestore.Client
	scopeFields map[string]string
	logger      *logging.Logger
}

var _ remote.Store = (*Store)(nil)

// New connects to Firestore.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Store, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpTransport, errors.New("firestore project id is required"))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpTransport, component, syncErrors.KindUnavailable, "create firestore client", err)
	}
	store := NewWithClient(client, cfg.ScopeFields)
	store.logger.Info("firestore connected", slog.String("project", cfg.ProjectID))
	return store, nil
}

// NewWithClient wraps an existing client. A nil scopeFields uses DefaultScopeFields.
func NewWithClient(client *firestore.Client, scopeFields map[string]string) *Store {
	if scopeFields == nil {
		scopeFields = DefaultScopeFields()
	}
	return &Store{
		client:      client,
		scopeFields: scopeFields,
		logger:      logging.Default().WithComponent(logging.Component(component)),
	}
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	return s.collect(ctx, syncErrors.OpFetch, s.client.Collection(collection).Documents(ctx))
}

func (s *Store) ListScoped(ctx context.Context, collection, key string) ([]json.RawMessage, error) {
	field, ok := s.scopeFields[collection]
	if !ok {
		return nil, syncErrors.E(syncErrors.OpFetch, component, syncErrors.KindInvalid, ErrUnscoped, collection)
	}
	q := s.client.Collection(collection).Where(field, "==", key)
	return s.collect(ctx, syncErrors.OpFetch, q.Documents(ctx))
}

func (s *Store) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if !remote.ValidID(id) {
		return nil, syncErrors.E(syncErrors.OpFetch, component, syncErrors.KindNotFound, fmt.Errorf("invalid id %q", id))
	}
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapError(syncErrors.OpFetch, err)
	}
	return exportDocument(snap.Ref.ID, snap.Data())
}

func (s *Store) Create(ctx context.Context, collection string, doc any) (string, error) {
	fields, err := toFields(doc)
	if err != nil {
		return "", syncErrors.E(syncErrors.OpCreate, component, syncErrors.KindInvalid, err)
	}
	ref, _, err := s.client.Collection(collection).Add(ctx, fields)
	if err != nil {
		return "", mapError(syncErrors.OpCreate, err)
	}
	s.logger.Debug("document created", slog.String("collection", collection), slog.String("id", ref.ID))
	return ref.ID, nil
}

// Update writes only the given top-level fields. The document must exist.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if !remote.ValidID(id) {
		return syncErrors.E(syncErrors.OpUpdate, component, syncErrors.KindNotFound, fmt.Errorf("invalid id %q", id))
	}
	updates := toUpdates(fields)
	if len(updates) == 0 {
		return nil
	}
	if _, err := s.client.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		return mapError(syncErrors.OpUpdate, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if !remote.ValidID(id) {
		return syncErrors.E(syncErrors.OpDelete, component, syncErrors.KindNotFound, fmt.Errorf("invalid id %q", id))
	}
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return mapError(syncErrors.OpDelete, err)
	}
	return nil
}

func (s *Store) collect(ctx context.Context, op syncErrors.Operation, it *firestore.DocumentIterator) ([]json.RawMessage, error) {
	defer it.Stop()
	docs := []json.RawMessage{}
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapError(op, err)
		}
		doc, err := exportDocument(snap.Ref.ID, snap.Data())
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// exportDocument renders Firestore data the way the REST service does, with the id in "_id".
func exportDocument(id string, data map[string]any) (json.RawMessage, error) {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["_id"] = id
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpLoad, component, syncErrors.KindInvalid, "encode document", err)
	}
	return raw, nil
}

// toFields converts a document into Firestore fields through its JSON form so wire field names
// are kept. Any "_id" is dropped since Firestore assigns the id.
func toFields(doc any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errors.New("document must encode to a JSON object")
	}
	delete(fields, "_id")
	return fields, nil
}

func toUpdates(fields map[string]any) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return updates
}

func mapError(op syncErrors.Operation, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return syncErrors.E(op, component, syncErrors.KindNotFound, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return syncErrors.E(op, component, syncErrors.KindUnauthenticated, syncErrors.ErrCodeUnauthenticated, err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return syncErrors.E(op, component, syncErrors.KindInvalid, err)
	case codes.Canceled, codes.DeadlineExceeded:
		return &syncErrors.SyncError{Op: op, Component: string(component), Kind: syncErrors.KindUnavailable, Code: syncErrors.ErrCodeNetworkFailure, Err: err}
	default:
		return syncErrors.E(op, component, syncErrors.KindUnavailable, syncErrors.ErrCodeNetworkFailure, err)
	}
}
