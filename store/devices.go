package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Device is a registered client identity.
type Device struct {
	ID        string
	Name      string
	Key       string
	CreatedAt time.Time
}

// RegisterDevice registers a device by name, returning the stored
// credentials. Idempotent: re-registering an existing name returns the
// original credentials and ignores the proposed ones.
func (s *Store) RegisterDevice(ctx context.Context, name, id, key string) (Device, error) {
	if existing, err := s.deviceByName(ctx, name); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Device{}, err
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (id, name, key, created_at) VALUES (?, ?, ?, ?)`,
		id, name, key, now)
	if err != nil {
		return Device{}, fmt.Errorf("register device: %w", err)
	}
	return Device{ID: id, Name: name, Key: key, CreatedAt: now}, nil
}

// DeviceByID looks a device up by id.
func (s *Store) DeviceByID(ctx context.Context, id string) (Device, error) {
	return s.scanDevice(s.db.QueryRowContext(ctx,
		`SELECT id, name, key, created_at FROM devices WHERE id = ?`, id))
}

func (s *Store) deviceByName(ctx context.Context, name string) (Device, error) {
	return s.scanDevice(s.db.QueryRowContext(ctx,
		`SELECT id, name, key, created_at FROM devices WHERE name = ?`, name))
}

func (s *Store) scanDevice(row *sql.Row) (Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.Name, &d.Key, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("scan device: %w", err)
	}
	return d, nil
}
