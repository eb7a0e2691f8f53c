package store

import (
	"context"
	"fmt"
)

// ScanAllUsers loads the full name -> id mapping, used by the identity
// cache's initial connect and its periodic TTL refresh.
func (s *Store) ScanAllUsers(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name FROM users")
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out[name] = id
	}
	return out, rows.Err()
}

// InsertUser attempts to create a user row, returning its id. Callers must
// handle IsUniqueViolation(err) by falling back to GetUserIDByName.
func (s *Store) InsertUser(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, "INSERT INTO users (name) VALUES ($1) RETURNING id", name).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetUserIDByName looks up an existing user's id.
func (s *Store) GetUserIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, "SELECT id FROM users WHERE name = $1", name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup user %q: %w", name, err)
	}
	return id, nil
}
