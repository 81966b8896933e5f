package session

import (
	"sidechat/internal/domain/transcript"
)

// Project derives the durable record list from the live transcript. It is a
// pure function of its inputs: it never mutates items or prior, and running
// it twice over the same inputs yields structurally identical output. The
// caller gates persistence on deep equality with the prior session.
//
// Items are walked in fixed (question, answer) pairs. A pair yields a record
// when any of:
//
//	(a) the answer is finalized with non-empty resolved content,
//	(b) the pair is an error; when prior already holds a record for the
//	    same question that record is carried through instead of being
//	    shadowed by the error,
//	(c) the answer carries reasoning, so partial thinking survives a reload,
//	(d) the answer has in-progress content and no prior record exists for
//	    its question yet.
func Project(items []transcript.Item, prior *Session) Session {
	out := Session{}
	if prior != nil {
		out.SessionID = prior.SessionID
		out.ModelName = prior.ModelName
		out.APIMode = prior.APIMode
		out.Question = prior.Question
	}

	records := make([]Record, 0, len(items)/2)
	for i := 0; i+1 < len(items); i += 2 {
		q, a := items[i], items[i+1]
		if q.Kind != transcript.KindQuestion {
			continue
		}

		resolved := resolveContent(a)
		hasReasoning := a.Thinking != nil && a.Thinking.HasReasoning
		priorRecord := recordFor(prior, q.Content)

		switch {
		case a.Kind == transcript.KindError:
			if priorRecord != nil {
				records = append(records, *priorRecord)
				continue
			}
			records = append(records, Record{
				Question: q.Content,
				Answer:   resolved,
				IsError:  true,
			})

		case a.Done && resolved != "", hasReasoning:
			records = append(records, buildRecord(q.Content, resolved, a))

		case resolved != "" && !a.Done:
			if priorRecord != nil {
				records = append(records, *priorRecord)
				continue
			}
			records = append(records, buildRecord(q.Content, resolved, a))
		}
	}

	out.ConversationRecords = records
	return out
}

func buildRecord(question, resolved string, a transcript.Item) Record {
	rec := Record{
		Question: question,
		Answer:   resolved,
	}
	if a.Thinking != nil && a.Thinking.HasReasoning {
		rec.ThinkingData = &ThinkingData{
			ReasoningContent: a.Thinking.ReasoningContent,
			ActualContent:    a.Thinking.ActualContent,
			ThinkingTime:     a.Thinking.ThinkingTimeMs,
			HasReasoning:     true,
			IsThinking:       false,
		}
	}
	return rec
}

// resolveContent picks the text a record should carry: the accumulated
// answer-channel text when present, otherwise the item's display content
// unless it is still the loading placeholder.
func resolveContent(a transcript.Item) string {
	if a.Thinking != nil && a.Thinking.ActualContent != "" {
		return a.Thinking.ActualContent
	}
	if a.Content != transcript.LoadingPlaceholder {
		return a.Content
	}
	return ""
}

func recordFor(prior *Session, question string) *Record {
	if prior == nil {
		return nil
	}
	for i := range prior.ConversationRecords {
		if prior.ConversationRecords[i].Question == question {
			return &prior.ConversationRecords[i]
		}
	}
	return nil
}
