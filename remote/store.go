// Package remote defines the port to the document datastore that holds users, products, carts,
// wishlists and orders.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
)

// Collection names.
const (
	Users    = "users"
	Products = "products"
	Cart     = "cart"
	Wishlist = "wishlist"
	Orders   = "orders"
	Thermos  = "thermos"
)

// Collections lists every collection the storefront knows about.
var Collections = []string{Users, Products, Cart, Wishlist, Orders, Thermos}

// Store is a CRUD document store. Documents travel as raw JSON so callers decide their shape.
// Implementations return errors built with the errors package; a missing document or scope is
// reported with errors.KindNotFound.
type Store interface {
	// List returns every document in collection. No server-side filtering is assumed.
	List(ctx context.Context, collection string) ([]json.RawMessage, error)

	// ListScoped returns the documents of collection that belong to key, e.g. GET /wishlist/{email}.
	ListScoped(ctx context.Context, collection, key string) ([]json.RawMessage, error)

	// Get returns one document by id.
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)

	// Create stores doc and returns the server-assigned id, or "" if the response carried none.
	Create(ctx context.Context, collection string, doc any) (string, error)

	// Update merges fields into the document with the given id.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes the document with the given id.
	Delete(ctx context.Context, collection, id string) error
}

// Decode unmarshals one document into T.
func Decode[T any](doc json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(doc, &out); err != nil {
		return out, syncErrors.E(syncErrors.OpLoad, syncErrors.KindInvalid, "decode document", err)
	}
	return out, nil
}

// DecodeAll unmarshals every document into T. It fails on the first malformed document.
func DecodeAll[T any](docs []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(docs))
	for i, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ExtractID pulls the new document id out of a create response. Both an echoed document
// ({"_id": ...} or {"id": ...}) and an insert acknowledgement ({"insertedId": ...}) are accepted,
// with ids given as strings, numbers or {"$oid": ...}. It returns "" when no id is present.
func ExtractID(body []byte) string {
	var ack map[string]json.RawMessage
	if err := json.Unmarshal(body, &ack); err != nil {
		return ""
	}
	for _, key := range []string{"insertedId", "_id", "id"} {
		raw, ok := ack[key]
		if !ok {
			continue
		}
		if id := rawID(raw); id != "" {
			return id
		}
	}
	return ""
}

func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var oid struct {
		OID string `json:"$oid"`
	}
	if err := json.Unmarshal(raw, &oid); err == nil && oid.OID != "" {
		return oid.OID
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// ValidCollection reports whether name is a known collection.
func ValidCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// ValidID rejects ids that cannot be used as a single path segment.
func ValidID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/?#")
}
