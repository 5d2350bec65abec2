// Package permission decides whether a requested tool call may run,
// suspending the caller until the user answers when no standing
// approval applies.
package permission

import (
	"context"
	"errors"

	"github.com/qent/sona-sub000/pkg/types"
)

// CancelledText is the tool result recorded when a call is not allowed.
const CancelledText = "Tool execution cancelled: the user did not allow this call."

// ErrNoPendingRequest is returned when resolving with nothing outstanding.
var ErrNoPendingRequest = errors.New("no pending permission request")

// Request is an outstanding permission question.
type Request struct {
	ID       string `json:"id"`
	ChatID   string `json:"chatID"`
	ToolName string `json:"toolName"`
	Preview  string `json:"preview,omitempty"`
}

// AllowList is the persisted per-chat record of always-allowed tools.
type AllowList interface {
	IsToolAllowed(ctx context.Context, chatID, tool string) (bool, error)
	AddAllowedTool(ctx context.Context, chatID, tool string) error
}

// Session is the slice of session state the gate reads and updates.
type Session interface {
	Current() types.ChatSession
	Update(fn func(*types.ChatSession)) types.ChatSession
}

var allowOnce = types.ToolDecision{Allow: true}
