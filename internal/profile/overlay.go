// Package profile tracks the author overlay. The overlay is independent of
// marker selection; it only ever shows the result of the latest request.
package profile

import (
	"sort"

	"github.com/geochirp/globe-engine/pkg/core"
)

// DefaultLimit is the maximum number of messages shown per author.
const DefaultLimit = 5

// Request identifies one overlay opening.
type Request struct {
	Token  uint64
	Author core.AuthorRef
	Limit  int
}

// Overlay holds the state of the author overlay. Tokens grow monotonically;
// a result is committed only when its token is the active one. It is not
// safe for concurrent use; the event loop is its only caller.
type Overlay struct {
	limit    int
	token    uint64
	active   bool
	author   core.AuthorRef
	loading  bool
	failed   bool
	messages []core.Message
}

// New creates a closed overlay showing at most limit messages.
func New(limit int) *Overlay {
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	return &Overlay{limit: limit}
}

// Open starts a new request for author, superseding any previous one.
func (o *Overlay) Open(author core.AuthorRef) Request {
	o.token++
	o.active = true
	o.author = author
	o.loading = true
	o.failed = false
	o.messages = nil
	return Request{Token: o.token, Author: author, Limit: o.limit}
}

// Resolve commits a fetch result. It returns false, leaving the overlay
// untouched, when token is not the active request.
func (o *Overlay) Resolve(token uint64, msgs []core.Message, err error) bool {
	if !o.active || token != o.token {
		return false
	}
	o.loading = false
	if err != nil {
		o.failed = true
		o.messages = nil
		return true
	}
	o.messages = newestFirst(msgs, o.limit)
	return true
}

// Dismiss closes the overlay and invalidates any in-flight request.
func (o *Overlay) Dismiss() bool {
	if !o.active {
		return false
	}
	o.token++
	o.active = false
	o.loading = false
	o.failed = false
	o.author = core.AuthorRef{}
	o.messages = nil
	return true
}

// Active reports whether the overlay is open.
func (o *Overlay) Active() bool {
	return o.active
}

// Token returns the current request token.
func (o *Overlay) Token() uint64 {
	return o.token
}

// Author returns the author of the open overlay.
func (o *Overlay) Author() core.AuthorRef {
	return o.author
}

// Loading reports whether the active request is still in flight.
func (o *Overlay) Loading() bool {
	return o.loading
}

// Failed reports whether the active request ended in an error.
func (o *Overlay) Failed() bool {
	return o.failed
}

// Messages returns a copy of the committed messages, newest first.
func (o *Overlay) Messages() []core.Message {
	out := make([]core.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

func newestFirst(msgs []core.Message, limit int) []core.Message {
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
