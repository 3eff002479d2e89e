// Package sse streams collection change notifications as text/event-stream.
package sse

import "time"

// Action describes what happened to a document.
type Action string

const (
	Created Action = "created"
	Updated Action = "updated"
	Deleted Action = "deleted"
)

// Notification announces that a document in a collection changed. It carries no document body;
// subscribers re-read whatever they cache.
type Notification struct {
	Collection string    `json:"collection"`
	Action     Action    `json:"action"`
	ID         string    `json:"id,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher accepts notifications for delivery.
type Publisher interface {
	Publish(n Notification)
}

// Handler reacts to one notification. Returning an error ends the subscription.
type Handler func(Notification) error

func matches(n Notification, collections []string) bool {
	if len(collections) == 0 {
		return true
	}
	for _, c := range collections {
		if c == n.Collection {
			return true
		}
	}
	return false
}
