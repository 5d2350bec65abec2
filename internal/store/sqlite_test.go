package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qent/sona-sub000/pkg/types"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "sona.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addMessages(t *testing.T, db *SQLite, chatID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		_, err := db.AddMessage(context.Background(), chatID, types.TurnMessage{Role: role, Content: string(rune('a' + i))}, "m", types.TokenUsage{Input: 1, Output: 2})
		require.NoError(t, err)
	}
}

func TestSQLite_AddAndLoadMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	chatID, err := db.CreateChat(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, chatID)

	user, err := db.AddMessage(ctx, chatID, types.TurnMessage{Role: types.RoleUser, Content: "hello"}, "", types.TokenUsage{})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, chatID, user.ChatID)

	_, err = db.AddMessage(ctx, chatID, types.TurnMessage{
		Role:      types.RoleAssistant,
		ToolCalls: []types.ToolCall{{ID: "c1", Name: "read_file", ArgumentsJSON: `{"path":"a"}`}},
	}, "openai/gpt-4o", types.TokenUsage{Input: 10, Output: 3})
	require.NoError(t, err)

	_, err = db.AddMessage(ctx, chatID, types.TurnMessage{
		Role: types.RoleTool, Content: "file body", ToolCallID: "c1", ToolName: "read_file",
	}, "", types.TokenUsage{})
	require.NoError(t, err)

	msgs, err := db.LoadMessages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "openai/gpt-4o", msgs[1].ModelName)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, `{"path":"a"}`, msgs[1].ToolCalls[0].ArgumentsJSON)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "read_file", msgs[2].ToolName)

	usage, err := db.LoadTokenUsage(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, types.TokenUsage{Input: 10, Output: 3}, usage)
}

func TestSQLite_UnknownChat(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.LoadMessages(ctx, "nope")
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = db.AddMessage(ctx, "nope", types.TurnMessage{Role: types.RoleUser}, "", types.TokenUsage{})
	assert.ErrorIs(t, err, ErrChatNotFound)

	assert.ErrorIs(t, db.DeleteChat(ctx, "nope"), ErrChatNotFound)
	assert.ErrorIs(t, db.DeleteMessagesFrom(ctx, "nope", 0), ErrChatNotFound)
}

func TestSQLite_UpdateMessage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	chatID, _ := db.CreateChat(ctx)

	msg, err := db.AddMessage(ctx, chatID, types.TurnMessage{Role: types.RoleAssistant, Content: "partial"}, "m", types.TokenUsage{})
	require.NoError(t, err)

	msg.Content = "full"
	msg.ToolCalls = []types.ToolCall{{ID: "c9", Name: "sum"}}
	require.NoError(t, db.UpdateMessage(ctx, msg))

	msgs, err := db.LoadMessages(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "full", msgs[0].Content)
	assert.True(t, msgs[0].HasToolCall("c9"))

	assert.ErrorIs(t, db.UpdateMessage(ctx, types.TurnMessage{ID: "missing"}), ErrMessageNotFound)
}

func TestSQLite_AllowList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	chatA, _ := db.CreateChat(ctx)
	chatB, _ := db.CreateChat(ctx)

	allowed, err := db.IsToolAllowed(ctx, chatA, "read_file")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, db.AddAllowedTool(ctx, chatA, "read_file"))
	require.NoError(t, db.AddAllowedTool(ctx, chatA, "read_file"), "idempotent")

	allowed, err = db.IsToolAllowed(ctx, chatA, "read_file")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = db.IsToolAllowed(ctx, chatB, "read_file")
	require.NoError(t, err)
	assert.False(t, allowed, "allow-list is per chat")
}

func TestSQLite_DeleteMessagesFrom(t *testing.T) {
	tests := []struct {
		name  string
		total int
		index int
		want  int
	}{
		{"truncate middle", 5, 2, 2},
		{"truncate all", 3, 0, 0},
		{"index past end", 3, 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			ctx := context.Background()
			chatID, _ := db.CreateChat(ctx)
			addMessages(t, db, chatID, tt.total)

			require.NoError(t, db.DeleteMessagesFrom(ctx, chatID, tt.index))

			msgs, err := db.LoadMessages(ctx, chatID)
			require.NoError(t, err)
			assert.Len(t, msgs, tt.want)
			for i, m := range msgs {
				assert.Equal(t, string(rune('a'+i)), m.Content)
			}
		})
	}
}

func TestSQLite_ListAndDeleteChats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, _ := db.CreateChat(ctx)
	second, _ := db.CreateChat(ctx)
	_, err := db.AddMessage(ctx, second, types.TurnMessage{Role: types.RoleUser, Content: "  what   is\nsona? "}, "", types.TokenUsage{Input: 4})
	require.NoError(t, err)

	chats, err := db.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, second, chats[0].ID)
	assert.Equal(t, "what is sona?", chats[0].Title)
	assert.Equal(t, 1, chats[0].MessageCount)
	assert.Equal(t, int64(4), chats[0].TokenUsage.Input)

	require.NoError(t, db.AddAllowedTool(ctx, first, "x"))
	require.NoError(t, db.DeleteChat(ctx, first))

	chats, err = db.ListChats(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestSummarize(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	got := summarize(long)
	assert.Len(t, []rune(got), titleLength)
	assert.Equal(t, "short", summarize("short"))
}
