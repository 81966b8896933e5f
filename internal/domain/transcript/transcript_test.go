package transcript

import (
	"strings"
	"testing"

	"sidechat/internal/domain/thinking"
)

func freshAnswer() Item {
	return Item{Kind: KindAnswer, Content: LoadingPlaceholder, Thinking: &thinking.State{}}
}

func TestItemIsOpen(t *testing.T) {
	cases := []struct {
		item Item
		want bool
	}{
		{Item{Kind: KindAnswer, Done: false}, true},
		{Item{Kind: KindError, Done: false}, true},
		{Item{Kind: KindAnswer, Done: true}, false},
		{Item{Kind: KindQuestion, Done: false}, false},
	}
	for _, tc := range cases {
		if got := tc.item.IsOpen(); got != tc.want {
			t.Fatalf("IsOpen(%#v) = %v, want %v", tc.item, got, tc.want)
		}
	}
}

func TestUpdateLastOnEmptyStoreAppends(t *testing.T) {
	s := NewStore()
	s.UpdateLast(func(it *Item) {
		it.Content = "updated"
	}, freshAnswer())

	if s.Len() != 1 {
		t.Fatalf("expected exactly one appended item, got %d", s.Len())
	}
	if got := s.Items()[0]; got.Kind != KindAnswer || got.Content != LoadingPlaceholder {
		t.Fatalf("expected fresh answer appended untransformed, got %#v", got)
	}
}

func TestUpdateLastEndingInQuestionAppends(t *testing.T) {
	s := NewStore()
	s.Append(Item{Kind: KindQuestion, Content: "hi", Done: true})

	s.UpdateLast(func(it *Item) {
		it.Content = "updated"
	}, freshAnswer())

	if s.Len() != 2 {
		t.Fatalf("expected one new item, got %d items", s.Len())
	}
}

func TestUpdateLastEndingInAnswerUpdatesInPlace(t *testing.T) {
	s := NewStore()
	s.BeginTurn("hi")
	before := s.Len()

	s.UpdateLast(func(it *Item) {
		it.Content = "streamed"
	}, freshAnswer())

	if s.Len() != before {
		t.Fatalf("expected item count unchanged, got %d", s.Len())
	}
	if got := s.Items()[1].Content; got != "streamed" {
		t.Fatalf("expected in-place update, got %q", got)
	}
}

func TestUpdateLastTargetsErrorItems(t *testing.T) {
	s := NewStore()
	s.BeginTurn("x")
	s.Fail("boom")
	before := s.Len()

	s.UpdateLast(func(it *Item) {
		it.Content = "still error"
	}, freshAnswer())

	if s.Len() != before {
		t.Fatalf("expected error item updated, not appended; got %d items", s.Len())
	}
}

func TestBeginTurnAppendsPair(t *testing.T) {
	s := NewStore()
	s.BeginTurn("hello")

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("expected question + placeholder answer, got %d items", len(items))
	}
	if items[0].Kind != KindQuestion || items[0].Content != "hello" {
		t.Fatalf("unexpected question item %#v", items[0])
	}
	if items[1].Kind != KindAnswer || items[1].Content != LoadingPlaceholder || items[1].Done {
		t.Fatalf("unexpected placeholder item %#v", items[1])
	}
}

func TestFailConvertsOpenAnswer(t *testing.T) {
	s := NewStore()
	s.BeginTurn("x")
	s.Fail(`{"code":1}`)

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("expected no extra item, got %d", len(items))
	}
	got := items[1]
	if got.Kind != KindError || !got.Done {
		t.Fatalf("expected finalized error item, got %#v", got)
	}
	if got.Content != "{\n  \"code\": 1\n}" {
		t.Fatalf("expected pretty-printed JSON, got %q", got.Content)
	}
}

func TestFailTwiceKeepsSingleErrorItem(t *testing.T) {
	s := NewStore()
	s.BeginTurn("x")
	s.Fail("first failure")
	s.Fail("second failure")

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("repeated failures must not stack error items, got %d", len(items))
	}
	if items[1].Content != "second failure" {
		t.Fatalf("expected refreshed error content, got %q", items[1].Content)
	}
}

func TestRemoveTrailing(t *testing.T) {
	s := NewStore()
	s.BeginTurn("q1")

	removed, ok := s.RemoveTrailing()
	if !ok || removed.Kind != KindAnswer {
		t.Fatalf("expected trailing answer removed, got %#v ok=%v", removed, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("expected question left behind, got %d items", s.Len())
	}

	// The question itself is never removed.
	if _, ok := s.RemoveTrailing(); ok {
		t.Fatal("must not remove a trailing question")
	}
}

func TestLastQuestion(t *testing.T) {
	s := NewStore()
	if _, ok := s.LastQuestion(); ok {
		t.Fatal("empty store has no question")
	}
	s.BeginTurn("first")
	s.BeginTurn("second")
	q, ok := s.LastQuestion()
	if !ok || q != "second" {
		t.Fatalf("expected latest question, got %q ok=%v", q, ok)
	}
}

func TestFormatErrorCategories(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"reauth", "provider says: Unauthorized token", reauthGuidance},
		{"session expired", "Session expired, please reconnect", reauthGuidance},
		{"challenge", "blocked by CAPTCHA check", challengeGuidance},
		{"verbatim", "plain failure text", "plain failure text"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatError(tc.raw); got != tc.want {
				t.Fatalf("FormatError(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestFormatErrorPrettyPrintsJSON(t *testing.T) {
	got := FormatError(`{"error":{"message":"rate limited"}}`)
	if !strings.Contains(got, "\n") || !strings.Contains(got, "  \"error\"") {
		t.Fatalf("expected indented JSON, got %q", got)
	}
}

func TestFormatErrorLeavesInvalidJSONVerbatim(t *testing.T) {
	raw := `{"broken":`
	if got := FormatError(raw); got != raw {
		t.Fatalf("invalid JSON must pass through verbatim, got %q", got)
	}
}
