package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/owesh74/Guftagu/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

const pgUniqueViolation = "23505"

// GroupRepository is the durable room store: groups, their character rosters,
// and their append-only message history.
type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// CreateGroup creates a group, optionally with its first character. Both
// inserts happen in one transaction so a failed character insert never leaves
// an empty group behind.
func (r *GroupRepository) CreateGroup(ctx context.Context, name string, initial *model.Character) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var groupID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO groups (name) VALUES ($1) RETURNING id
	`, name).Scan(&groupID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	if initial != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO characters (group_id, name, secret) VALUES ($1, $2, $3)
		`, groupID, initial.Name, initial.Secret)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GroupExists reports whether a group with the given name exists.
func (r *GroupRepository) GroupExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM groups WHERE name = $1)
	`, name).Scan(&exists)
	return exists, err
}

// GetSnapshot returns the point-in-time read of a group: its character roster
// and full message history in append order.
func (r *GroupRepository) GetSnapshot(ctx context.Context, name string) (*model.GroupSnapshot, error) {
	var groupID int64
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM groups WHERE name = $1
	`, name).Scan(&groupID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	snapshot := &model.GroupSnapshot{
		Name:       name,
		Characters: []model.Character{},
		Messages:   []model.Message{},
	}

	rows, err := r.pool.Query(ctx, `
		SELECT name FROM characters WHERE group_id = $1 ORDER BY id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c model.Character
		if err := rows.Scan(&c.Name); err != nil {
			return nil, err
		}
		snapshot.Characters = append(snapshot.Characters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := r.pool.Query(ctx, `
		SELECT id, sender, text, file_url, file_name, file_kind, reply_sender, reply_text, created_at
		FROM messages
		WHERE group_id = $1
		ORDER BY created_at, id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer msgRows.Close()
	for msgRows.Next() {
		m, err := scanMessage(msgRows, name)
		if err != nil {
			return nil, err
		}
		snapshot.Messages = append(snapshot.Messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, err
	}

	return snapshot, nil
}

// GetCharacterSecret returns the stored secret for a character, or ErrNotFound
// if the group or the character is absent.
func (r *GroupRepository) GetCharacterSecret(ctx context.Context, group, name string) (string, error) {
	var secret string
	err := r.pool.QueryRow(ctx, `
		SELECT c.secret
		FROM characters c
		JOIN groups g ON g.id = c.group_id
		WHERE g.name = $1 AND c.name = $2
	`, group, name).Scan(&secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return secret, nil
}

// AddCharacter creates a character in an existing group. Returns ErrNotFound
// if the group is absent and ErrDuplicate if the name is taken.
func (r *GroupRepository) AddCharacter(ctx context.Context, group, name, secret string) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO characters (group_id, name, secret)
		SELECT id, $2, $3 FROM groups WHERE name = $1
	`, group, name, secret)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage stores a finalized message and returns its assigned row ID.
// The timestamp is taken from the message, not the database clock: the hub
// assigns it while holding the room's publish lock, which is what makes the
// per-room order reproducible.
func (r *GroupRepository) AppendMessage(ctx context.Context, msg model.Message) (int64, error) {
	var fileURL, fileName, fileKind *string
	if msg.File != nil {
		fileURL = &msg.File.URL
		fileName = &msg.File.Name
		kind := string(msg.File.Kind)
		fileKind = &kind
	}
	var replySender, replyText *string
	if msg.ReplyTo != nil {
		replySender = &msg.ReplyTo.Sender
		replyText = &msg.ReplyTo.Text
	}

	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (group_id, sender, text, file_url, file_name, file_kind, reply_sender, reply_text, created_at)
		SELECT id, $2, $3, $4, $5, $6, $7, $8, $9 FROM groups WHERE name = $1
		RETURNING id
	`, msg.Group, msg.Sender, msg.Text, fileURL, fileName, fileKind, replySender, replyText, msg.CreatedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

// MessageCount returns the number of stored messages for a group. An absent
// group counts as zero.
func (r *GroupRepository) MessageCount(ctx context.Context, group string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN groups g ON g.id = m.group_id
		WHERE g.name = $1
	`, group).Scan(&count)
	return count, err
}

// DeleteMessagesOlderThan removes messages older than the given number of
// days across all groups. Returns the number of deleted rows.
func (r *GroupRepository) DeleteMessagesOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM messages WHERE created_at < NOW() - make_interval(days => $1)
	`, days)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanMessage(rows pgx.Rows, group string) (model.Message, error) {
	var m model.Message
	var fileURL, fileName, fileKind *string
	var replySender, replyText *string
	if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &fileURL, &fileName, &fileKind, &replySender, &replyText, &m.CreatedAt); err != nil {
		return model.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.Group = group
	if fileURL != nil {
		m.File = &model.Attachment{URL: *fileURL, Kind: model.KindOther}
		if fileName != nil {
			m.File.Name = *fileName
		}
		if fileKind != nil {
			m.File.Kind = model.AttachmentKind(*fileKind)
		}
	}
	if replySender != nil {
		m.ReplyTo = &model.ReplySnapshot{Sender: *replySender}
		if replyText != nil {
			m.ReplyTo.Text = *replyText
		}
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
