// Package types provides the core data types shared across sona.
package types

import "fmt"

// ChatSession is the observable snapshot of one chat.
// Values are replaced wholesale; use Clone before modifying.
type ChatSession struct {
	ChatID            string        `json:"chatID"`
	TokenUsage        TokenUsage    `json:"tokenUsage"`
	Messages          []TurnMessage `json:"messages"`
	RequestInProgress bool          `json:"requestInProgress"`
	IsStreaming       bool          `json:"isStreaming"`
	PendingToolName   *string       `json:"pendingToolName,omitempty"`
	PendingPatch      *string       `json:"pendingPatch,omitempty"`
	AutoApproveTools  bool          `json:"autoApproveTools"`
}

// Clone returns a deep copy of the session.
func (s ChatSession) Clone() ChatSession {
	out := s
	if s.Messages != nil {
		out.Messages = make([]TurnMessage, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	if s.PendingToolName != nil {
		name := *s.PendingToolName
		out.PendingToolName = &name
	}
	if s.PendingPatch != nil {
		patch := *s.PendingPatch
		out.PendingPatch = &patch
	}
	return out
}

// Validate reports a violated snapshot invariant.
func (s ChatSession) Validate() error {
	if s.IsStreaming && !s.RequestInProgress {
		return fmt.Errorf("chat %s: streaming without request in progress", s.ChatID)
	}
	if s.PendingToolName != nil && s.RequestInProgress {
		return fmt.Errorf("chat %s: pending tool %q while request in progress", s.ChatID, *s.PendingToolName)
	}
	return nil
}

// LastMessage returns the tail message, if any.
func (s ChatSession) LastMessage() (TurnMessage, bool) {
	if len(s.Messages) == 0 {
		return TurnMessage{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// ChatSummary is a listing entry for a persisted chat.
type ChatSummary struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	MessageCount int        `json:"messageCount"`
	TokenUsage   TokenUsage `json:"tokenUsage"`
	Created      int64      `json:"created"`
	Updated      int64      `json:"updated"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
