// Package store persists chats, their messages and per-chat tool
// allow-lists.
package store

import (
	"context"
	"errors"

	"github.com/qent/sona-sub000/pkg/types"
)

var (
	// ErrChatNotFound is returned for operations on an unknown chat.
	ErrChatNotFound = errors.New("chat not found")
	// ErrMessageNotFound is returned when updating an unknown message.
	ErrMessageNotFound = errors.New("message not found")
)

// ChatRepository is the persistence port consumed by the conversation core.
type ChatRepository interface {
	CreateChat(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, chatID string, msg types.TurnMessage, model string, usage types.TokenUsage) (types.TurnMessage, error)
	UpdateMessage(ctx context.Context, msg types.TurnMessage) error
	LoadMessages(ctx context.Context, chatID string) ([]types.TurnMessage, error)
	LoadTokenUsage(ctx context.Context, chatID string) (types.TokenUsage, error)
	IsToolAllowed(ctx context.Context, chatID, tool string) (bool, error)
	AddAllowedTool(ctx context.Context, chatID, tool string) error
	ListChats(ctx context.Context) ([]types.ChatSummary, error)
	DeleteChat(ctx context.Context, chatID string) error
	DeleteMessagesFrom(ctx context.Context, chatID string, index int) error
}
