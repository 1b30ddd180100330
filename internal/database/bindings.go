package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LoveACE-Team/LoveACE/internal/isim"
)

// BindingStore persists one dormitory room binding per principal.
type BindingStore struct {
	db *DB
}

func NewBindingStore(db *DB) *BindingStore {
	return &BindingStore{db: db}
}

// Save upserts the principal's room binding.
func (s *BindingStore) Save(ctx context.Context, userID string, b isim.RoomBinding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_bindings (
			userid, building_code, building_name, floor_code, floor_name,
			room_code, room_name, room_id, display_text, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(userid) DO UPDATE SET
			building_code = excluded.building_code,
			building_name = excluded.building_name,
			floor_code = excluded.floor_code,
			floor_name = excluded.floor_name,
			room_code = excluded.room_code,
			room_name = excluded.room_name,
			room_id = excluded.room_id,
			display_text = excluded.display_text,
			updated_at = CURRENT_TIMESTAMP`,
		userID,
		b.Building.Code, b.Building.Name,
		b.Floor.Code, b.Floor.Name,
		b.Room.Code, b.Room.Name,
		b.RoomID, b.DisplayText)
	if err != nil {
		return fmt.Errorf("save room binding: %w", err)
	}
	return nil
}

// Load returns the principal's binding, or isim.ErrRoomNotBound.
func (s *BindingStore) Load(ctx context.Context, userID string) (*isim.RoomBinding, error) {
	var b isim.RoomBinding
	err := s.db.QueryRowContext(ctx, `
		SELECT building_code, building_name, floor_code, floor_name,
		       room_code, room_name, room_id, display_text
		FROM room_bindings WHERE userid = ?`, userID).Scan(
		&b.Building.Code, &b.Building.Name,
		&b.Floor.Code, &b.Floor.Name,
		&b.Room.Code, &b.Room.Name,
		&b.RoomID, &b.DisplayText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, isim.ErrRoomNotBound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
