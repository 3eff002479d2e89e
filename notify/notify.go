// Package notify delivers the one-line user-facing notices produced by storefront operations,
// such as "Added to cart" or "Please login to add items to cart".
package notify

import (
	"context"
	"sync"

	"github.com/c0deZ3R0/go-storefront-sync/logging"
)

// Level tells a success notice from a failure notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelFailure Level = "failure"
)

// Notice is one message for the user.
type Notice struct {
	Level   Level
	Message string
}

// Notifier shows notices to the user.
type Notifier interface {
	Success(ctx context.Context, msg string)
	Failure(ctx context.Context, msg string)
}

// Nop drops every notice.
type Nop struct{}

func (Nop) Success(context.Context, string) {}
func (Nop) Failure(context.Context, string) {}

// LogNotifier writes notices to a logger. It is the default outside of an interactive surface.
type LogNotifier struct {
	Logger *logging.Logger
}

// NewLogNotifier returns a notifier logging on the "notify" component. A nil logger uses the
// package default.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogNotifier{Logger: logger.WithComponent("notify")}
}

func (n *LogNotifier) Success(ctx context.Context, msg string) {
	n.Logger.InfoContext(ctx, msg, "notice", string(LevelSuccess))
}

func (n *LogNotifier) Failure(ctx context.Context, msg string) {
	n.Logger.WarnContext(ctx, msg, "notice", string(LevelFailure))
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Success(_ context.Context, msg string) {
	r.add(Notice{Level: LevelSuccess, Message: msg})
}

func (r *Recorder) Failure(_ context.Context, msg string) {
	r.add(Notice{Level: LevelFailure, Message: msg})
}

func (r *Recorder) add(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Last returns the most recent notice and whether there was one.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

// Drain returns the recorded notices and forgets them.
func (r *Recorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}

// Multi fans every notice out to several notifiers.
type Multi []Notifier

func (m Multi) Success(ctx context.Context, msg string) {
	for _, n := range m {
		n.Success(ctx, msg)
	}
}

func (m Multi) Failure(ctx context.Context, msg string) {
	for _, n := range m {
		n.Failure(ctx, msg)
	}
}
