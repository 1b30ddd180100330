package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LoveACE-Team/LoveACE/internal/crypto"
	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

// ErrUserNotFound is returned for principals with no stored account.
var ErrUserNotFound = errors.New("user not found")

// UserStore holds accounts with their portal credentials sealed under the
// master secret. It implements portal.CredentialSource, so the session
// manager can open handshakes without the API layer touching passwords.
type UserStore struct {
	db     *DB
	sealer *crypto.Sealer
}

func NewUserStore(db *DB, sealer *crypto.Sealer) *UserStore {
	return &UserStore{db: db, sealer: sealer}
}

// Create stores a new account. The portal password is sealed before it
// touches disk.
func (s *UserStore) Create(ctx context.Context, userID, password string) error {
	sealed, err := s.sealer.Seal([]byte(password))
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (userid, sealed_password) VALUES (?, ?)", userID, sealed)
	if err != nil {
		return fmt.Errorf("create user %s: %w", userID, err)
	}
	return nil
}

// UpdatePassword reseals and replaces the stored portal password.
func (s *UserStore) UpdatePassword(ctx context.Context, userID, password string) error {
	sealed, err := s.sealer.Seal([]byte(password))
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET sealed_password = ? WHERE userid = ?", sealed, userID)
	if err != nil {
		return fmt.Errorf("update user %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Exists reports whether the account is registered.
func (s *UserStore) Exists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM users WHERE userid = ?", userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Credentials unseals the stored password for a handshake.
func (s *UserStore) Credentials(ctx context.Context, principal string) (portal.Credentials, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT sealed_password FROM users WHERE userid = ?", principal).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return portal.Credentials{}, ErrUserNotFound
	}
	if err != nil {
		return portal.Credentials{}, err
	}
	password, err := s.sealer.Open(sealed)
	if err != nil {
		return portal.Credentials{}, fmt.Errorf("unseal credentials for %s: %w", principal, err)
	}
	return portal.Credentials{Principal: principal, Password: string(password)}, nil
}

// maxDevices caps concurrent devices per account; the oldest registration
// is evicted when the cap is hit.
const maxDevices = 5

// RegisterDevice records a device binding for the account.
func (s *UserStore) RegisterDevice(ctx context.Context, userID, deviceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (userid, device_id) VALUES (?, ?)
		ON CONFLICT(userid, device_id) DO UPDATE SET created_at = CURRENT_TIMESTAMP`,
		userID, deviceID)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM devices WHERE userid = ? AND id NOT IN (
			SELECT id FROM devices WHERE userid = ? ORDER BY created_at DESC, id DESC LIMIT ?
		)`, userID, userID, maxDevices)
	if err != nil {
		return fmt.Errorf("prune devices: %w", err)
	}
	return nil
}

// DeviceRegistered reports whether the device is still bound to the account.
func (s *UserStore) DeviceRegistered(ctx context.Context, userID, deviceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM devices WHERE userid = ? AND device_id = ?", userID, deviceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
