// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is RFC3339 with a fixed-width nanosecond fraction so stored
// UTC timestamps sort lexicographically. time.RFC3339Nano would drop
// trailing zeros and break ORDER BY on the text column.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// The pragmas ride on the DSN so they apply to every connection the
	// pool opens, not just the one a bare Exec would hit: WAL for
	// concurrent readers, a busy timeout so competing writers wait instead
	// of failing with SQLITE_BUSY, and foreign key enforcement.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			participant_low  TEXT NOT NULL,
			participant_high TEXT NOT NULL,
			last_message_id  TEXT,
			last_message_at  TEXT,
			archived_by_low  INTEGER NOT NULL DEFAULT 0,
			archived_by_high INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			UNIQUE(participant_low, participant_high),
			CHECK (participant_low < participant_high)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_low
			ON conversations(participant_low, last_message_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_high
			ON conversations(participant_high, last_message_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id       TEXT NOT NULL,
			recipient_id    TEXT NOT NULL,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'text',
			seq             INTEGER NOT NULL,
			created_at      TEXT NOT NULL,
			is_read         INTEGER NOT NULL DEFAULT 0,
			read_at         TEXT,

			UNIQUE(conversation_id, seq),
			CHECK (sender_id != recipient_id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages(conversation_id, seq);

		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(recipient_id, is_read, conversation_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation inserts a new conversation row.
// The participants must already be in canonical order (low < high).
// If a conversation for the same pair already exists, it returns
// ErrDuplicateConversation so callers can re-read instead of failing.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, participant_low, participant_high, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ParticipantLow,
		conv.ParticipantHigh,
		conv.CreatedAt.UTC().Format(timeFormat),
		conv.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"participant_low", conv.ParticipantLow,
		"participant_high", conv.ParticipantHigh)
	return nil
}

const conversationColumns = `id, participant_low, participant_high, last_message_id, last_message_at,
		archived_by_low, archived_by_high, created_at, updated_at`

// scanConversation scans a conversation row from either *sql.Row or *sql.Rows.
func scanConversation(scan func(dest ...any) error) (*Conversation, error) {
	var conv Conversation
	var lastMessageID, lastMessageAt sql.NullString
	var createdAtStr, updatedAtStr string

	err := scan(
		&conv.ID,
		&conv.ParticipantLow,
		&conv.ParticipantHigh,
		&lastMessageID,
		&lastMessageAt,
		&conv.ArchivedByLow,
		&conv.ArchivedByHigh,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	if lastMessageID.Valid {
		conv.LastMessageID = lastMessageID.String
	}
	if lastMessageAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastMessageAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		conv.LastMessageAt = &t
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	return scanConversation(row.Scan)
}

// GetConversationByParticipants retrieves the conversation for a canonical
// participant pair. This uses the UNIQUE(participant_low, participant_high)
// index. Returns ErrNotFound if no conversation exists for the pair.
func (s *SQLiteStore) GetConversationByParticipants(ctx context.Context, low, high string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant_low = ? AND participant_high = ?`
	row := s.db.QueryRowContext(ctx, query, low, high)
	return scanConversation(row.Scan)
}

// SetArchived flips the archive flag for userID's side of the conversation.
// Returns ErrNotFound if the conversation doesn't exist or userID is not a
// participant.
func (s *SQLiteStore) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	query := `
		UPDATE conversations
		SET archived_by_low  = CASE WHEN participant_low  = ? THEN ? ELSE archived_by_low  END,
		    archived_by_high = CASE WHEN participant_high = ? THEN ? ELSE archived_by_high END,
		    updated_at = ?
		WHERE id = ? AND (participant_low = ? OR participant_high = ?)
	`

	flag := 0
	if archived {
		flag = 1
	}
	now := time.Now().UTC().Format(timeFormat)

	result, err := s.db.ExecContext(ctx, query,
		userID, flag,
		userID, flag,
		now,
		conversationID, userID, userID,
	)
	if err != nil {
		return fmt.Errorf("updating archive flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("set archive flag",
		"conversation_id", conversationID,
		"user_id", userID,
		"archived", archived)
	return nil
}

// AppendMessage inserts a message and updates the owning conversation's
// last-message pointer in a single transaction. The store assigns Seq
// (per-conversation insertion sequence) and CreatedAt (strictly increasing
// within the conversation, nudged forward on timestamp collision).
// Appending also clears the recipient's archive flag so the conversation
// reappears in their directory.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Touch the conversation row first. This takes the write lock at the top
	// of the transaction, so concurrent appenders serialize here and each
	// one reads the high-water marks the previous one committed. It also
	// doubles as the existence check.
	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = updated_at WHERE id = ?`,
		msg.ConversationID)
	if err != nil {
		return fmt.Errorf("locking conversation for append: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}

	var lastAt sql.NullString
	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT c.last_message_at, (SELECT MAX(seq) FROM messages WHERE conversation_id = c.id)
		FROM conversations c
		WHERE c.id = ?
	`, msg.ConversationID).Scan(&lastAt, &maxSeq)
	if err != nil {
		return fmt.Errorf("querying conversation for append: %w", err)
	}

	msg.Seq = maxSeq.Int64 + 1

	createdAt := time.Now().UTC()
	if lastAt.Valid {
		prev, err := time.Parse(time.RFC3339Nano, lastAt.String)
		if err != nil {
			return fmt.Errorf("parsing last_message_at: %w", err)
		}
		// Keep created_at strictly increasing even if the clock stalls
		// or steps backwards between appends.
		if !createdAt.After(prev) {
			createdAt = prev.Add(time.Nanosecond)
		}
	}
	msg.CreatedAt = createdAt

	createdAtStr := createdAt.Format(timeFormat)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, type, seq, created_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.RecipientID,
		msg.Content,
		msg.Type,
		msg.Seq,
		createdAtStr,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = ?,
		    last_message_at = ?,
		    updated_at = ?,
		    archived_by_low  = CASE WHEN participant_low  = ? THEN 0 ELSE archived_by_low  END,
		    archived_by_high = CASE WHEN participant_high = ? THEN 0 ELSE archived_by_high END
		WHERE id = ?
	`,
		msg.ID,
		createdAtStr,
		createdAtStr,
		msg.RecipientID,
		msg.RecipientID,
		msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("updating last-message pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}

	msg.IsRead = false
	msg.ReadAt = nil

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"seq", msg.Seq)
	return nil
}

const messageColumns = `id, conversation_id, sender_id, recipient_id, content, type, seq, created_at, is_read, read_at`

func scanMessage(scan func(dest ...any) error) (*Message, error) {
	var msg Message
	var createdAtStr string
	var readAt sql.NullString

	err := scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.RecipientID,
		&msg.Content,
		&msg.Type,
		&msg.Seq,
		&createdAtStr,
		&msg.IsRead,
		&readAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	if readAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, readAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing read_at: %w", err)
		}
		msg.ReadAt = &t
	}

	return &msg, nil
}

// ListMessages returns all messages in a conversation ordered by
// (created_at, seq) ascending. The seq tie-break makes the order total even
// under timestamp collisions.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
}

// ListMessagesAfter returns messages with seq greater than afterSeq, in
// order. Used by realtime consumers to close delivery gaps after a
// reconnect: seq is dense per conversation, so nothing can fall between
// afterSeq and the first returned row.
func (s *SQLiteStore) ListMessagesAfter(ctx context.Context, conversationID string, afterSeq int64) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND seq > ?
		ORDER BY created_at ASC, seq ASC
	`, conversationID, afterSeq)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// MarkRead transitions every unread message addressed to recipientID in the
// conversation to read, as one bulk predicate update. Returns the number of
// messages transitioned; zero is not an error, which makes the operation
// idempotent. Messages appended concurrently simply miss the predicate and
// stay unread until the next call.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, recipientID string, readAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = 1, read_at = ?
		WHERE conversation_id = ? AND recipient_id = ? AND is_read = 0
	`,
		readAt.UTC().Format(timeFormat),
		conversationID,
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if count > 0 {
		s.logger.Debug("marked messages read",
			"conversation_id", conversationID,
			"recipient_id", recipientID,
			"count", count)
	}
	return count, nil
}

// UnreadCount returns the number of unread messages addressed to userID in
// one conversation. Always derived from message rows, never cached.
func (s *SQLiteStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = ? AND recipient_id = ? AND is_read = 0
	`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// TotalUnread returns the number of unread messages addressed to userID
// across all conversations.
func (s *SQLiteStore) TotalUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE recipient_id = ? AND is_read = 0
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting total unread: %w", err)
	}
	return count, nil
}

// ListConversationSummaries returns the directory view for userID:
// conversations where they participate and have not archived, newest
// activity first, each with the last message and the caller's unread count.
func (s *SQLiteStore) ListConversationSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	query := `
		SELECT ` + qualify("c", conversationColumns) + `,
		       m.id, m.conversation_id, m.sender_id, m.recipient_id, m.content, m.type, m.seq, m.created_at, m.is_read, m.read_at,
		       (SELECT COUNT(*) FROM messages u
		        WHERE u.conversation_id = c.id AND u.recipient_id = ? AND u.is_read = 0) AS unread
		FROM conversations c
		LEFT JOIN messages m ON m.id = c.last_message_id
		WHERE (c.participant_low = ? AND c.archived_by_low = 0)
		   OR (c.participant_high = ? AND c.archived_by_high = 0)
		ORDER BY COALESCE(c.last_message_at, c.updated_at) DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var conv Conversation
		var lastMessageID, lastMessageAt sql.NullString
		var createdAtStr, updatedAtStr string

		var msgID, msgConvID, msgSender, msgRecipient, msgContent, msgType sql.NullString
		var msgSeq sql.NullInt64
		var msgCreatedAt, msgReadAt sql.NullString
		var msgIsRead sql.NullBool
		var unread int

		err := rows.Scan(
			&conv.ID,
			&conv.ParticipantLow,
			&conv.ParticipantHigh,
			&lastMessageID,
			&lastMessageAt,
			&conv.ArchivedByLow,
			&conv.ArchivedByHigh,
			&createdAtStr,
			&updatedAtStr,
			&msgID, &msgConvID, &msgSender, &msgRecipient, &msgContent, &msgType, &msgSeq, &msgCreatedAt, &msgIsRead, &msgReadAt,
			&unread,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}

		if lastMessageID.Valid {
			conv.LastMessageID = lastMessageID.String
		}
		if lastMessageAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, lastMessageAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_message_at: %w", err)
			}
			conv.LastMessageAt = &t
		}
		conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		summary := &ConversationSummary{
			Conversation:     &conv,
			OtherParticipant: conv.OtherParticipant(userID),
			UnreadCount:      unread,
		}

		if msgID.Valid {
			msg := &Message{
				ID:             msgID.String,
				ConversationID: msgConvID.String,
				SenderID:       msgSender.String,
				RecipientID:    msgRecipient.String,
				Content:        msgContent.String,
				Type:           msgType.String,
				Seq:            msgSeq.Int64,
				IsRead:         msgIsRead.Bool,
			}
			msg.CreatedAt, err = time.Parse(time.RFC3339Nano, msgCreatedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last message created_at: %w", err)
			}
			if msgReadAt.Valid {
				t, err := time.Parse(time.RFC3339Nano, msgReadAt.String)
				if err != nil {
					return nil, fmt.Errorf("parsing last message read_at: %w", err)
				}
				msg.ReadAt = &t
			}
			summary.LastMessage = msg
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary rows: %w", err)
	}
	return summaries, nil
}

// qualify prefixes each column in a comma-separated list with a table alias.
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
