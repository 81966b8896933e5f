// Package transcript is the ordered log of live conversation items. It owns
// the append-or-update decision for streaming updates and the removal step of
// a retry. All mutation goes through the reducer-style methods here; nothing
// else touches the item slice.
package transcript

import (
	"sidechat/internal/domain/thinking"
)

// Kind is the closed variant of transcript entries.
type Kind string

const (
	KindQuestion Kind = "question"
	KindAnswer   Kind = "answer"
	KindError    Kind = "error"
)

// LoadingPlaceholder is the display content of an answer before the first
// token arrives. It is never treated as real content.
const LoadingPlaceholder = "…"

// Item is one entry of the live transcript. Thinking is only meaningful on
// answer items. Done items stay immutable except through RemoveTrailing.
type Item struct {
	Kind     Kind
	Content  string
	Done     bool
	Thinking *thinking.State
}

// IsOpen reports whether the item can still receive streaming updates.
func (it Item) IsOpen() bool {
	return (it.Kind == KindAnswer || it.Kind == KindError) && !it.Done
}

// Store holds the ordered items of one conversation. Callers serialize
// access; the inbound message loop is the only writer.
type Store struct {
	items []Item
}

func NewStore() *Store {
	return &Store{}
}

// Items returns a copy of the item list.
func (s *Store) Items() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of items.
func (s *Store) Len() int {
	return len(s.items)
}

// Append adds an item at the tail.
func (s *Store) Append(it Item) {
	s.items = append(s.items, it)
}

// BeginTurn appends a question together with its loading-placeholder answer.
func (s *Store) BeginTurn(question string) {
	s.Append(Item{Kind: KindQuestion, Content: question, Done: true})
	s.Append(Item{
		Kind:     KindAnswer,
		Content:  LoadingPlaceholder,
		Thinking: &thinking.State{},
	})
}

// UpdateLast applies transform to the last answer-or-error item, searching
// from the tail. When no such item exists the fresh item is appended instead,
// so a streaming update always has a target.
func (s *Store) UpdateLast(transform func(*Item), fresh Item) {
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].Kind == KindAnswer || s.items[i].Kind == KindError {
			transform(&s.items[i])
			return
		}
	}
	s.Append(fresh)
}

// RemoveTrailing removes the trailing answer-or-error item and returns it.
// Used by retry; the preceding question stays in place.
func (s *Store) RemoveTrailing() (Item, bool) {
	if len(s.items) == 0 {
		return Item{}, false
	}
	last := s.items[len(s.items)-1]
	if last.Kind != KindAnswer && last.Kind != KindError {
		return Item{}, false
	}
	s.items = s.items[:len(s.items)-1]
	return last, true
}

// LastQuestion returns the text of the most recent question item.
func (s *Store) LastQuestion() (string, bool) {
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].Kind == KindQuestion {
			return s.items[i].Content, true
		}
	}
	return "", false
}

// Fail converts the last open answer into an error item carrying the
// formatted detail. When the transcript already ends in an error for this
// turn the content is refreshed in place, so repeated failures never stack
// duplicate error items.
func (s *Store) Fail(detail string) {
	formatted := FormatError(detail)
	s.UpdateLast(func(it *Item) {
		it.Kind = KindError
		it.Content = formatted
		it.Done = true
		it.Thinking = nil
	}, Item{Kind: KindError, Content: formatted, Done: true})
}
