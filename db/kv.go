package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/deemkeen/loxodon/domain"
)

const (
	sqlUpsertObject = `INSERT INTO objects(key, value) VALUES (?, ?)
	                   ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	sqlSelectObject = `SELECT value FROM objects WHERE key = ?`

	sqlInsertListEntry = `INSERT INTO lists(site_id, name, value) VALUES (?, ?, ?)`
	sqlSelectList      = `SELECT value FROM lists WHERE site_id = ? AND name = ? ORDER BY id ASC`
)

// GetObject returns the stored representation for a canonical identifier,
// or nil when the key was never stored.
func (db *DB) GetObject(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := db.db.QueryRowContext(ctx, sqlSelectObject, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(value), nil
}

// SetObject stores a representation under its canonical identifier. Last
// write wins.
func (db *DB) SetObject(ctx context.Context, key string, value json.RawMessage) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertObject, key, string(value))
		return err
	})
}

// GetList returns a site's named identifier list in insertion order.
func (db *DB) GetList(ctx context.Context, site *domain.Site, name string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectList, site.Id, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// AppendToList appends an identifier to a site's named list.
func (db *DB) AppendToList(ctx context.Context, site *domain.Site, name string, value string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertListEntry, site.Id, name, value)
		return err
	})
}
