package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/qent/sona-sub000/internal/logging"
	"github.com/qent/sona-sub000/pkg/types"

	_ "modernc.org/sqlite"
)

const titleLength = 60

// SQLite implements ChatRepository on a single SQLite database file.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

var _ ChatRepository = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	logger := logging.Component("store")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db, logger: logger, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug().Str("path", path).Msg("SQLite store initialized")
	return s, nil
}

func (s *SQLite) createSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			tool_calls TEXT NOT NULL DEFAULT '',
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS allowed_tools (
			chat_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			PRIMARY KEY(chat_id, tool_name),
			FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateChat inserts an empty chat and returns its id.
func (s *SQLite) CreateChat(ctx context.Context) (string, error) {
	id := ulid.Make().String()
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO chats(id, created_at, updated_at) VALUES(?, ?, ?)",
		id, now, now,
	); err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	return id, nil
}

// AddMessage appends msg to the chat. A message id is assigned when empty.
func (s *SQLite) AddMessage(ctx context.Context, chatID string, msg types.TurnMessage, model string, usage types.TokenUsage) (types.TurnMessage, error) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	msg.ChatID = chatID
	msg.ModelName = model
	msg.TokenUsage = usage
	if msg.CreatedAt == 0 {
		msg.CreatedAt = s.now().UnixMilli()
	}

	calls, err := encodeToolCalls(msg.ToolCalls)
	if err != nil {
		return msg, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback()

	var title string
	if err := tx.QueryRowContext(ctx, "SELECT title FROM chats WHERE id = ?", chatID).Scan(&title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return msg, ErrChatNotFound
		}
		return msg, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages(id, chat_id, role, content, model, input_tokens, output_tokens, tool_calls, tool_call_id, tool_name, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, chatID, string(msg.Role), msg.Content, model, usage.Input, usage.Output,
		calls, msg.ToolCallID, msg.ToolName, msg.CreatedAt,
	); err != nil {
		return msg, fmt.Errorf("insert message: %w", err)
	}

	if title == "" && msg.Role == types.RoleUser {
		title = summarize(msg.Content)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE chats SET updated_at = ?, title = ? WHERE id = ?",
		s.now().UnixMilli(), title, chatID,
	); err != nil {
		return msg, err
	}

	return msg, tx.Commit()
}

// UpdateMessage rewrites the content and tool calls of a stored message.
func (s *SQLite) UpdateMessage(ctx context.Context, msg types.TurnMessage) error {
	calls, err := encodeToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET content = ?, tool_calls = ? WHERE id = ?",
		msg.Content, calls, msg.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// LoadMessages returns the chat transcript in insertion order.
func (s *SQLite) LoadMessages(ctx context.Context, chatID string) ([]types.TurnMessage, error) {
	if err := s.requireChat(ctx, chatID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, model, input_tokens, output_tokens, tool_calls, tool_call_id, tool_name, created_at
		 FROM messages WHERE chat_id = ? ORDER BY seq ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []types.TurnMessage{}
	for rows.Next() {
		var (
			m     types.TurnMessage
			role  string
			calls string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.ModelName, &m.TokenUsage.Input, &m.TokenUsage.Output,
			&calls, &m.ToolCallID, &m.ToolName, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ChatID = chatID
		m.Role = types.Role(role)
		if calls != "" {
			if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
				s.logger.Warn().Err(err).Str("messageID", m.ID).Msg("dropping undecodable tool calls")
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LoadTokenUsage sums token usage over the chat's messages.
func (s *SQLite) LoadTokenUsage(ctx context.Context, chatID string) (types.TokenUsage, error) {
	var usage types.TokenUsage
	if err := s.requireChat(ctx, chatID); err != nil {
		return usage, err
	}
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0) FROM messages WHERE chat_id = ?",
		chatID,
	).Scan(&usage.Input, &usage.Output)
	return usage, err
}

// IsToolAllowed reports whether tool is on the chat's allow-list.
func (s *SQLite) IsToolAllowed(ctx context.Context, chatID, tool string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM allowed_tools WHERE chat_id = ? AND tool_name = ?",
		chatID, tool,
	).Scan(&n)
	return n > 0, err
}

// AddAllowedTool puts tool on the chat's allow-list.
func (s *SQLite) AddAllowedTool(ctx context.Context, chatID, tool string) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO allowed_tools(chat_id, tool_name) VALUES(?, ?)",
		chatID, tool,
	); err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return ErrChatNotFound
		}
		return fmt.Errorf("allow tool: %w", err)
	}
	return nil
}

// ListChats returns chat summaries, most recently updated first.
func (s *SQLite) ListChats(ctx context.Context) ([]types.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       COUNT(m.seq), COALESCE(SUM(m.input_tokens), 0), COALESCE(SUM(m.output_tokens), 0)
		FROM chats c LEFT JOIN messages m ON m.chat_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC, c.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []types.ChatSummary{}
	for rows.Next() {
		var it types.ChatSummary
		if err := rows.Scan(&it.ID, &it.Title, &it.Created, &it.Updated,
			&it.MessageCount, &it.TokenUsage.Input, &it.TokenUsage.Output); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DeleteChat removes the chat, its messages and its allow-list.
func (s *SQLite) DeleteChat(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteMessagesFrom removes every message at position index or later.
func (s *SQLite) DeleteMessagesFrom(ctx context.Context, chatID string, index int) error {
	if index < 0 {
		return fmt.Errorf("negative index %d", index)
	}
	if err := s.requireChat(ctx, chatID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE chat_id = ? AND seq IN (
			SELECT seq FROM messages WHERE chat_id = ? ORDER BY seq ASC LIMIT -1 OFFSET ?
		)`, chatID, chatID, index)
	if err != nil {
		return fmt.Errorf("truncate chat: %w", err)
	}
	return nil
}

func (s *SQLite) requireChat(ctx context.Context, chatID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM chats WHERE id = ?", chatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrChatNotFound
	}
	return err
}

func encodeToolCalls(calls []types.ToolCall) (string, error) {
	if len(calls) == 0 {
		return "", nil
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return "", fmt.Errorf("encode tool calls: %w", err)
	}
	return string(data), nil
}

func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > titleLength {
		return string(runes[:titleLength-1]) + "…"
	}
	return text
}
