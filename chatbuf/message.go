package chatbuf

import (
	"sync"

	"github.com/onnwee/vodchat/render"
	"github.com/onnwee/vodchat/twitchapi"
)

// Author is a deduplicated chat participant. All messages from the same
// author id share one Author instance while any of them is buffered.
type Author struct {
	ID   string
	Name string
}

// Message is one immutable chat message converted from an API comment.
// Badges and Color are resolved at conversion time against the configured
// renderer, so printing is a pure formatting step.
type Message struct {
	ID        string
	Timestamp float64
	Body      string
	Badges    []string
	Color     string
	Author    *Author
}

// authorRegistry deduplicates Author values by id with explicit reference
// counts. Acquire on message conversion, release when the message leaves the
// buffer; an entry with zero references is evicted.
type authorRegistry struct {
	mu      sync.Mutex
	entries map[string]*authorEntry
}

type authorEntry struct {
	author *Author
	refs   int
}

func newAuthorRegistry() *authorRegistry {
	return &authorRegistry{entries: make(map[string]*authorEntry)}
}

func (r *authorRegistry) acquire(id, name string) *Author {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.refs++
		return e.author
	}
	e := &authorEntry{author: &Author{ID: id, Name: name}, refs: 1}
	r.entries[id] = e
	return e.author
}

func (r *authorRegistry) release(a *Author) {
	if a == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[a.ID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.entries, a.ID)
	}
}

func (r *authorRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// newMessage converts an API comment, interning the author and resolving
// badges and color against the renderer.
func newMessage(c twitchapi.Comment, reg *authorRegistry, rend *render.Renderer) *Message {
	name := c.Commenter.DisplayName
	if name == "" {
		name = c.Commenter.Name
	}
	if name == "" {
		name = "Unknown"
	}
	ids := make([]string, 0, len(c.Message.UserBadges))
	for _, b := range c.Message.UserBadges {
		ids = append(ids, b.ID)
	}
	return &Message{
		ID:        c.ID,
		Timestamp: c.ContentOffsetSeconds,
		Body:      c.Message.Body,
		Badges:    rend.Badges(ids),
		Color:     rend.ShiftHex(c.Message.UserColor),
		Author:    reg.acquire(c.Commenter.ID, name),
	}
}
