// Package conversation persists per-user conversations and their messages.
package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("conversation not found")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// stampLayout is fixed width so that lexical order equals time order.
	stampLayout = "2006-01-02T15:04:05.000000Z"
)

type Conversation struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	CreatedAt    string `json:"createdAt"`
	LastUpdated  string `json:"lastUpdated"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	IsUser         bool   `json:"isUser"`
	Text           string `json:"text"`
	ImageData      string `json:"imageData,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// NewMessage is the caller supplied part of a message.
type NewMessage struct {
	IsUser    bool
	Text      string
	ImageData string
}

// Page is one slice of a user's conversations, newest first. NextCursor is
// empty when no further conversations exist.
type Page struct {
	Conversations []Conversation `json:"conversations"`
	NextCursor    string         `json:"nextCursor,omitempty"`
}

// Patch holds the mutable conversation fields; nil leaves a field unchanged.
type Patch struct {
	Title        *string
	SystemPrompt *string
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) Store {
	return Store{db: db, now: time.Now}
}

func (s Store) Create(ctx context.Context, userID, title, systemPrompt string) (Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, fmt.Errorf("begin create conversation: %w", err)
	}
	defer tx.Rollback()

	conversation, err := s.createTx(ctx, tx, userID, title, systemPrompt)
	if err != nil {
		return Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("commit create conversation: %w", err)
	}
	return conversation, nil
}

// CreateWithMessage lazily creates a conversation for the first saved message
// of a new chat and stores that message in the same transaction.
func (s Store) CreateWithMessage(ctx context.Context, userID, title, systemPrompt string, first NewMessage) (Conversation, Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, Message{}, fmt.Errorf("begin create conversation: %w", err)
	}
	defer tx.Rollback()

	conversation, err := s.createTx(ctx, tx, userID, title, systemPrompt)
	if err != nil {
		return Conversation{}, Message{}, err
	}
	message, err := s.addMessageTx(ctx, tx, userID, conversation.ID, first)
	if err != nil {
		return Conversation{}, Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Conversation{}, Message{}, fmt.Errorf("commit create conversation: %w", err)
	}

	conversation.LastUpdated = message.Timestamp
	return conversation, message, nil
}

func (s Store) createTx(ctx context.Context, tx *sql.Tx, userID, title, systemPrompt string) (Conversation, error) {
	stamp, err := s.nextStamp(ctx, tx, userID)
	if err != nil {
		return Conversation{}, err
	}

	conversation := Conversation{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(title),
		SystemPrompt: strings.TrimSpace(systemPrompt),
		CreatedAt:    stamp,
		LastUpdated:  stamp,
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations (id, user_id, title, system_prompt, created_at, last_updated)
VALUES (?, ?, ?, ?, ?, ?);
`, conversation.ID, userID, conversation.Title, conversation.SystemPrompt, stamp, stamp); err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conversation, nil
}

func (s Store) Get(ctx context.Context, userID, id string) (Conversation, error) {
	var out Conversation
	err := s.db.QueryRowContext(ctx, `
SELECT id, title, system_prompt, created_at, last_updated
FROM conversations
WHERE id = ? AND user_id = ?
LIMIT 1;
`, id, userID).Scan(&out.ID, &out.Title, &out.SystemPrompt, &out.CreatedAt, &out.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return out, nil
}

// List returns conversations ordered by lastUpdated descending, starting
// strictly after the startAfter cursor when one is given.
func (s Store) List(ctx context.Context, userID string, limit int, startAfter string) (Page, error) {
	limit = ClampLimit(limit)
	startAfter = strings.TrimSpace(startAfter)

	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, system_prompt, created_at, last_updated
FROM conversations
WHERE user_id = ? AND (? = '' OR last_updated < ?)
ORDER BY last_updated DESC, id DESC
LIMIT ?;
`, userID, startAfter, startAfter, limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]Conversation, 0, limit)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.SystemPrompt, &c.CreatedAt, &c.LastUpdated); err != nil {
			return Page{}, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("list conversations: %w", err)
	}

	page := Page{Conversations: conversations}
	if len(conversations) > limit {
		page.Conversations = conversations[:limit]
		page.NextCursor = page.Conversations[limit-1].LastUpdated
	}
	return page, nil
}

// Update changes title and/or system prompt. It does not touch lastUpdated,
// which only moves when messages are added.
func (s Store) Update(ctx context.Context, userID, id string, patch Patch) (Conversation, error) {
	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return Conversation{}, err
	}
	if patch.Title != nil {
		current.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.SystemPrompt != nil {
		current.SystemPrompt = strings.TrimSpace(*patch.SystemPrompt)
	}

	result, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET title = ?, system_prompt = ?
WHERE id = ? AND user_id = ?;
`, current.Title, current.SystemPrompt, id, userID)
	if err != nil {
		return Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return Conversation{}, ErrNotFound
	}
	return current, nil
}

func (s Store) Delete(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete conversation: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?;`, id, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ? AND user_id = ?;`, id, userID); err != nil {
		return fmt.Errorf("delete conversation messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}

// DeleteAll removes every conversation of a user and returns how many were
// deleted.
func (s Store) DeleteAll(ctx context.Context, userID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete conversations: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?;`, userID); err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?;`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete conversations: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete conversations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete conversations: %w", err)
	}
	return deleted, nil
}

// AddMessage stores a message and refreshes the conversation's lastUpdated.
func (s Store) AddMessage(ctx context.Context, userID, conversationID string, msg NewMessage) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin add message: %w", err)
	}
	defer tx.Rollback()

	message, err := s.addMessageTx(ctx, tx, userID, conversationID, msg)
	if err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit add message: %w", err)
	}
	return message, nil
}

func (s Store) addMessageTx(ctx context.Context, tx *sql.Tx, userID, conversationID string, msg NewMessage) (Message, error) {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ? AND user_id = ? LIMIT 1;`, conversationID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("check conversation: %w", err)
	}

	stamp, err := s.nextStamp(ctx, tx, userID)
	if err != nil {
		return Message{}, err
	}

	message := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		IsUser:         msg.IsUser,
		Text:           msg.Text,
		ImageData:      strings.TrimSpace(msg.ImageData),
		Timestamp:      stamp,
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, conversation_id, user_id, is_user, text, image_data, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, message.ID, conversationID, userID, boolToInt(message.IsUser), message.Text, message.ImageData, stamp); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE conversations
SET last_updated = ?
WHERE id = ? AND user_id = ?;
`, stamp, conversationID, userID); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	return message, nil
}

// Messages returns a conversation's messages in timestamp order.
func (s Store) Messages(ctx context.Context, userID, conversationID string) ([]Message, error) {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, is_user, text, image_data, timestamp
FROM messages
WHERE conversation_id = ? AND user_id = ?
ORDER BY timestamp ASC, rowid ASC;
`, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, 16)
	for rows.Next() {
		var m Message
		var isUser int
		if err := rows.Scan(&m.ID, &m.ConversationID, &isUser, &m.Text, &m.ImageData, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.IsUser = isUser == 1
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// nextStamp returns a timestamp strictly greater than every lastUpdated the
// user already has, so cursors stay unique and ordered even when the wall
// clock stalls or steps backwards.
func (s Store) nextStamp(ctx context.Context, tx *sql.Tx, userID string) (string, error) {
	var latest string
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(last_updated), '')
FROM conversations
WHERE user_id = ?;
`, userID).Scan(&latest); err != nil {
		return "", fmt.Errorf("read latest timestamp: %w", err)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	if latest != "" {
		if previous, err := time.Parse(stampLayout, latest); err == nil && !now.After(previous) {
			now = previous.Add(time.Microsecond)
		}
	}
	return now.Format(stampLayout), nil
}

// ClampLimit applies the default and maximum page sizes.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
