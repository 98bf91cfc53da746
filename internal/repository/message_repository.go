package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/echosecure-chat/internal/dbx"
	"github.com/iliyamo/echosecure-chat/internal/model"
)

// MessageRepo stores messages. Direct messages carry the sorted peer pair
// in peer_low/peer_high so a conversation is one index range regardless of
// who sent what.
type MessageRepo struct{ DB *sql.DB }

func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{DB: db} }

const messageColumns = "id,sender_id,receiver_id,group_id,text,image,voice,video,document,original_name,gif," +
	"location,contact,replied_to,reactions,pinned,is_edited,read_by,expires_at,version,created_at,updated_at"

func (r *MessageRepo) Create(ctx context.Context, m model.Message) error {
	loc, contact, reactions, readBy, err := encodeMessageJSON(m)
	if err != nil {
		return err
	}
	var low, high any
	if !m.IsGroup() {
		conv := m.Conversation()
		low, high = conv.A, conv.B
	}
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO messages ("+messageColumns+",peer_low,peer_high) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)",
		m.ID, m.SenderID, nullable(m.ReceiverID), nullable(m.GroupID),
		nullable(m.Text), nullable(m.Image), nullable(m.Voice), nullable(m.Video), nullable(m.Document),
		nullable(m.OriginalName), nullable(m.GIF), loc, contact, nullable(m.RepliedTo),
		reactions, m.Pinned, m.IsEdited, readBy, m.ExpiresAt, m.Version, m.CreatedAt, m.UpdatedAt,
		low, high)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (model.Message, error) {
	m, err := scanMessage(r.DB.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

// Update writes the mutable columns of m if the stored version still equals
// m.Version, bumping it by one. ErrVersionConflict means someone else wrote
// first (or the row is gone).
func (r *MessageRepo) Update(ctx context.Context, m model.Message) error {
	_, _, reactions, readBy, err := encodeMessageJSON(m)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE messages SET text=?, reactions=?, pinned=?, is_edited=?, read_by=?, version=version+1, updated_at=? WHERE id=? AND version=?",
		nullable(m.Text), reactions, m.Pinned, m.IsEdited, readBy, m.UpdatedAt, m.ID, m.Version)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM messages WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return mustAffect(res)
}

// ListConversation returns the unexpired messages of conv, oldest first.
func (r *MessageRepo) ListConversation(ctx context.Context, conv model.Conversation, now time.Time) ([]model.Message, error) {
	where, args := conversationFilter(conv)
	args = append(args, now)
	return r.query(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE "+where+
			" AND (expires_at IS NULL OR expires_at > ?) ORDER BY created_at ASC", args...)
}

// ListPinned returns the unexpired pinned messages of conv.
func (r *MessageRepo) ListPinned(ctx context.Context, conv model.Conversation, now time.Time) ([]model.Message, error) {
	where, args := conversationFilter(conv)
	args = append(args, now)
	return r.query(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE "+where+
			" AND pinned=1 AND (expires_at IS NULL OR expires_at > ?) ORDER BY created_at ASC", args...)
}

// Pin sets pinned on m when its version still matches and conv holds fewer
// than limit unexpired pinned messages. The conversation's anchor rows are
// locked first, so concurrent pins in one conversation run one at a time.
func (r *MessageRepo) Pin(ctx context.Context, m model.Message, limit int, now time.Time) error {
	conv := m.Conversation()
	return dbx.WithTx(ctx, r.DB, func(ctx context.Context, tx dbx.DBTX) error {
		if err := lockConversation(ctx, tx, conv); err != nil {
			return err
		}
		where, args := conversationFilter(conv)
		args = append(args, m.ID, now)
		var n int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM messages WHERE "+where+
				" AND pinned=1 AND id<>? AND (expires_at IS NULL OR expires_at > ?)", args...).Scan(&n)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n >= limit {
			return ErrPinLimit
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE messages SET pinned=1, version=version+1, updated_at=? WHERE id=? AND version=?",
			m.UpdatedAt, m.ID, m.Version)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if affected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
}

// lockConversation takes row locks on the group, or on both users of a
// direct chat in id order.
func lockConversation(ctx context.Context, tx dbx.DBTX, conv model.Conversation) error {
	var (
		rows *sql.Rows
		err  error
	)
	if conv.IsGroup() {
		rows, err = tx.QueryContext(ctx, "SELECT id FROM chat_groups WHERE id=? FOR UPDATE", conv.GroupID)
	} else {
		rows, err = tx.QueryContext(ctx, "SELECT id FROM users WHERE id IN (?,?) ORDER BY id FOR UPDATE", conv.A, conv.B)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListExpired returns up to limit messages whose expires_at has passed.
func (r *MessageRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Message, error) {
	return r.query(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at ASC LIMIT ?",
		now, limit)
}

// DeleteByIDs removes the given messages and returns how many rows went.
func (r *MessageRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM messages WHERE id IN (?"+strings.Repeat(",?", len(ids)-1)+")", args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// DeleteConversation removes every message in conv.
func (r *MessageRepo) DeleteConversation(ctx context.Context, conv model.Conversation) (int64, error) {
	where, args := conversationFilter(conv)
	res, err := r.DB.ExecContext(ctx, "DELETE FROM messages WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) query(ctx context.Context, q string, args ...any) ([]model.Message, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func conversationFilter(conv model.Conversation) (string, []any) {
	if conv.IsGroup() {
		return "group_id=?", []any{conv.GroupID}
	}
	return "peer_low=? AND peer_high=? AND group_id IS NULL", []any{conv.A, conv.B}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (model.Message, error) {
	var (
		m                                          model.Message
		receiver, group, text, image, voice, video sql.NullString
		document, originalName, gif, repliedTo     sql.NullString
		loc, contact, reactions, readBy            []byte
		expires                                    sql.NullTime
	)
	err := s.Scan(&m.ID, &m.SenderID, &receiver, &group, &text, &image, &voice, &video, &document,
		&originalName, &gif, &loc, &contact, &repliedTo, &reactions, &m.Pinned, &m.IsEdited, &readBy,
		&expires, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, err
		}
		return model.Message{}, fmt.Errorf("db error: %w", err)
	}
	m.ReceiverID, m.GroupID = receiver.String, group.String
	m.Text, m.Image, m.Voice, m.Video = text.String, image.String, voice.String, video.String
	m.Document, m.OriginalName, m.GIF, m.RepliedTo = document.String, originalName.String, gif.String, repliedTo.String
	if expires.Valid {
		t := expires.Time
		m.ExpiresAt = &t
	}
	if len(loc) > 0 && string(loc) != "null" {
		m.Location = &model.Location{}
		if err := json.Unmarshal(loc, m.Location); err != nil {
			return model.Message{}, fmt.Errorf("decode location: %w", err)
		}
	}
	if len(contact) > 0 && string(contact) != "null" {
		m.Contact = &model.Contact{}
		if err := json.Unmarshal(contact, m.Contact); err != nil {
			return model.Message{}, fmt.Errorf("decode contact: %w", err)
		}
	}
	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
			return model.Message{}, fmt.Errorf("decode reactions: %w", err)
		}
	}
	if len(readBy) > 0 {
		if err := json.Unmarshal(readBy, &m.ReadBy); err != nil {
			return model.Message{}, fmt.Errorf("decode read_by: %w", err)
		}
	}
	return m, nil
}

func encodeMessageJSON(m model.Message) (loc, contact, reactions, readBy any, err error) {
	if m.Location != nil {
		if loc, err = marshalString(m.Location); err != nil {
			return
		}
	}
	if m.Contact != nil {
		if contact, err = marshalString(m.Contact); err != nil {
			return
		}
	}
	if reactions, err = marshalString(m.Reactions); err != nil {
		return
	}
	ids := m.ReadBy
	if ids == nil {
		ids = []string{}
	}
	readBy, err = marshalString(ids)
	return
}

func marshalString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
