package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/echosecure-chat/internal/dbx"
	"github.com/iliyamo/echosecure-chat/internal/model"
)

// GroupRepo stores the group aggregate. Membership lives in group_members;
// position keeps the member order stable across rewrites.
type GroupRepo struct{ DB *sql.DB }

func NewGroupRepo(db *sql.DB) *GroupRepo { return &GroupRepo{DB: db} }

// Create inserts the group row and its membership in one transaction.
func (r *GroupRepo) Create(ctx context.Context, g model.Group) error {
	return dbx.WithTx(ctx, r.DB, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO chat_groups (id,name,description,profile_pic,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?)",
			g.ID, g.Name, g.Description, g.ProfilePic, g.CreatedBy, g.CreatedAt, g.UpdatedAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return insertMembersTx(ctx, tx, g)
	})
}

func (r *GroupRepo) Get(ctx context.Context, id string) (model.Group, error) {
	var g model.Group
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,name,description,profile_pic,created_by,created_at,updated_at FROM chat_groups WHERE id=? LIMIT 1", id).
		Scan(&g.ID, &g.Name, &g.Description, &g.ProfilePic, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Group{}, ErrNotFound
		}
		return model.Group{}, fmt.Errorf("db error: %w", err)
	}
	if err := r.loadMembers(ctx, &g); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

func (r *GroupRepo) loadMembers(ctx context.Context, g *model.Group) error {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT user_id,is_admin FROM group_members WHERE group_id=? ORDER BY position ASC", g.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	g.Members, g.Admins = nil, nil
	for rows.Next() {
		var (
			uid   string
			admin bool
		)
		if err := rows.Scan(&uid, &admin); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		g.Members = append(g.Members, uid)
		if admin {
			g.Admins = append(g.Admins, uid)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListForUser returns the groups userID belongs to, newest first.
func (r *GroupRepo) ListForUser(ctx context.Context, userID string) ([]model.Group, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT g.id,g.name,g.description,g.profile_pic,g.created_by,g.created_at,g.updated_at "+
			"FROM chat_groups g JOIN group_members m ON m.group_id=g.id WHERE m.user_id=? ORDER BY g.created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	var out []model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.ProfilePic, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("db error: %w", err)
	}
	rows.Close()
	for i := range out {
		if err := r.loadMembers(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SaveMembership rewrites the member and admin sets of g.
func (r *GroupRepo) SaveMembership(ctx context.Context, g model.Group) error {
	return dbx.WithTx(ctx, r.DB, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id=?", g.ID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := insertMembersTx(ctx, tx, g); err != nil {
			return err
		}
		return touchGroupTx(ctx, tx, g.ID, g.UpdatedAt)
	})
}

// UpdateDetails writes name, description and picture.
func (r *GroupRepo) UpdateDetails(ctx context.Context, g model.Group) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE chat_groups SET name=?, description=?, profile_pic=?, updated_at=? WHERE id=?",
		g.Name, g.Description, g.ProfilePic, g.UpdatedAt, g.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return mustAffect(res)
}

// Delete removes the group's messages and membership rows, then the group.
func (r *GroupRepo) Delete(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, r.DB, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE group_id=?", id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id=?", id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM chat_groups WHERE id=?", id)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return mustAffect(res)
	})
}

func insertMembersTx(ctx context.Context, tx dbx.DBTX, g model.Group) error {
	for i, uid := range g.Members {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO group_members (group_id,user_id,is_admin,position) VALUES (?,?,?,?)",
			g.ID, uid, g.IsAdmin(uid), i); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func touchGroupTx(ctx context.Context, tx dbx.DBTX, id string, at time.Time) error {
	res, err := tx.ExecContext(ctx, "UPDATE chat_groups SET updated_at=? WHERE id=?", at, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return mustAffect(res)
}
