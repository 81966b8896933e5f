// Package session defines the durable conversation aggregate and the
// projection that derives it from the live transcript.
package session

// ThinkingData is the persisted reasoning view of one record. It is only
// written when the answer actually carried reasoning, and a saved record is
// never mid-thinking: HasReasoning is always true, IsThinking always false.
type ThinkingData struct {
	ReasoningContent string `json:"reasoningContent"`
	ActualContent    string `json:"actualContent"`
	ThinkingTime     int64  `json:"thinkingTime"`
	HasReasoning     bool   `json:"hasReasoning"`
	IsThinking       bool   `json:"isThinking"`
}

// Record is the durable projection of one (question, answer) pair.
type Record struct {
	Question     string        `json:"question"`
	Answer       string        `json:"answer"`
	IsError      bool          `json:"isError,omitempty"`
	ThinkingData *ThinkingData `json:"thinkingData,omitempty"`
}

// Session is the durable aggregate persisted per conversation. Question holds
// the in-flight prompt on outbound requests; IsRetry marks a rebuilt request
// whose removed turn is excluded from ConversationRecords.
type Session struct {
	SessionID           string   `json:"sessionId"`
	ModelName           string   `json:"modelName"`
	APIMode             string   `json:"apiMode"`
	Question            string   `json:"question,omitempty"`
	ConversationRecords []Record `json:"conversationRecords"`
	IsRetry             bool     `json:"isRetry,omitempty"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.ConversationRecords = make([]Record, len(s.ConversationRecords))
	for i, r := range s.ConversationRecords {
		out.ConversationRecords[i] = r
		if r.ThinkingData != nil {
			td := *r.ThinkingData
			out.ConversationRecords[i].ThinkingData = &td
		}
	}
	return &out
}

// Merge applies an inbound session patch. Non-zero fields of the patch win;
// the record list is replaced wholesale when the patch carries one.
func (s *Session) Merge(patch *Session) {
	if patch == nil {
		return
	}
	if patch.SessionID != "" {
		s.SessionID = patch.SessionID
	}
	if patch.ModelName != "" {
		s.ModelName = patch.ModelName
	}
	if patch.APIMode != "" {
		s.APIMode = patch.APIMode
	}
	if patch.Question != "" {
		s.Question = patch.Question
	}
	if patch.ConversationRecords != nil {
		s.ConversationRecords = patch.Clone().ConversationRecords
	}
}
