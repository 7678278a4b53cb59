package db

import (
	"database/sql"
	"log"
)

const (
	// Tenants
	sqlCreateSitesTable = `CREATE TABLE IF NOT EXISTS sites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Accounts, local and remote. site_id is NULL for external accounts.
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		name TEXT,
		bio TEXT,
		avatar_url TEXT,
		banner_url TEXT,
		site_id INTEGER REFERENCES sites(id),
		ap_id TEXT UNIQUE NOT NULL,
		url TEXT,
		ap_followers TEXT,
		public_key_pem TEXT,
		private_key_pem TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_accounts_ap_id ON accounts(ap_id);
		CREATE INDEX IF NOT EXISTS idx_accounts_site_id ON accounts(site_id);
	`

	// Follow edges, existence-only. The composite key makes edge
	// insertion idempotent via INSERT OR IGNORE.
	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		follower_id INTEGER NOT NULL,
		followee_id INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(follower_id, followee_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_followee_id ON follows(followee_id);
	`

	// Post shadow records plus like/repost membership sets
	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ap_id TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostLikesTable = `CREATE TABLE IF NOT EXISTS post_likes (
		post_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(post_id, account_id)
	)`

	sqlCreatePostRepostsTable = `CREATE TABLE IF NOT EXISTS post_reposts (
		post_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(post_id, account_id)
	)`

	// Content-addressed object store: canonical identifier -> encoded
	// protocol object, last write wins
	sqlCreateObjectsTable = `CREATE TABLE IF NOT EXISTS objects (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Per-site named identifier lists (inbox, outbox, liked), append-only;
	// rowid order is insertion order
	sqlCreateListsTable = `CREATE TABLE IF NOT EXISTS lists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateListsIndices = `
		CREATE INDEX IF NOT EXISTS idx_lists_site_name ON lists(site_id, name);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if err := db.createTableIfNotExists(tx, sqlCreateSitesTable, "sites"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateAccountsTable, "accounts"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateFollowsTable, "follows"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreatePostsTable, "posts"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreatePostLikesTable, "post_likes"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreatePostRepostsTable, "post_reposts"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateObjectsTable, "objects"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateListsTable, "lists"); err != nil {
			return err
		}

		if _, err := tx.Exec(sqlCreateAccountsIndices); err != nil {
			log.Printf("Warning: Failed to create accounts indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateFollowsIndices); err != nil {
			log.Printf("Warning: Failed to create follows indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateListsIndices); err != nil {
			log.Printf("Warning: Failed to create lists indices: %v", err)
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
