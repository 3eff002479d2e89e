// Package model defines the storefront records exchanged with the remote datastore.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is a document identifier as it appears on the wire. It decodes from a string, a number or
// an extended-JSON {"$oid": "..."} object.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	case data[0] == '{':
		var oid struct {
			OID string `json:"$oid"`
		}
		if err := json.Unmarshal(data, &oid); err != nil {
			return err
		}
		*id = ID(oid.OID)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode id %s: %w", data, err)
		}
		*id = ID(n.String())
	}
	return nil
}

// pickID prefers the Mongo-style _id over a plain id.
func pickID(primary, alt ID) string {
	if primary != "" {
		return string(primary)
	}
	return string(alt)
}

// Highlights is an ordered list of short selling points. Admin forms sometimes submit it as a
// single comma separated string, which is split on decode.
type Highlights []string

func (h *Highlights) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		var out Highlights
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*h = out
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*h = list
	return nil
}
