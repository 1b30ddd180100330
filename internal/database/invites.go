package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInviteInvalid covers unknown invite codes.
	ErrInviteInvalid = errors.New("invite code invalid")
	// ErrInviteUsed marks a code that has already registered an account.
	ErrInviteUsed = errors.New("invite code already used")
)

// InviteStore manages single-use registration invites.
type InviteStore struct {
	db *DB
}

func NewInviteStore(db *DB) *InviteStore {
	return &InviteStore{db: db}
}

// Create registers a new invite code.
func (s *InviteStore) Create(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO invites (invite_code) VALUES (?)", code)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	return nil
}

// Verify checks that the code exists and is unused.
func (s *InviteStore) Verify(ctx context.Context, code string) error {
	var usedBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT used_by FROM invites WHERE invite_code = ?", code).Scan(&usedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInviteInvalid
	}
	if err != nil {
		return err
	}
	if usedBy.Valid {
		return ErrInviteUsed
	}
	return nil
}

// Consume marks the code as used by an account. It fails if the code was
// consumed concurrently.
func (s *InviteStore) Consume(ctx context.Context, code, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invites SET used_by = ?, used_at = CURRENT_TIMESTAMP
		WHERE invite_code = ? AND used_by IS NULL`, userID, code)
	if err != nil {
		return fmt.Errorf("consume invite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInviteUsed
	}
	return nil
}

// PruneUnused deletes unused invites older than the given age. Consumed
// invites are kept for the registration audit trail.
func (s *InviteStore) PruneUnused(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM invites
		WHERE used_by IS NULL
		  AND created_at <= datetime('now', ?)`,
		fmt.Sprintf("-%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("prune invites: %w", err)
	}
	return res.RowsAffected()
}
