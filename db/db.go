package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// ErrNoDefaultAccount marks a site that has no owning account yet.
// Callers distinguish it from storage failures when deciding whether to
// bootstrap one.
var ErrNoDefaultAccount = errors.New("no default account for site")

// DB is the database struct. The protocol scheme is injected at
// construction so rehydrated internal accounts derive identifiers
// deterministically.
type DB struct {
	db       *sql.DB
	protocol string
}

const (
	//Sites
	sqlInsertSite       = `INSERT INTO sites(host) VALUES (?)`
	sqlSelectSiteByHost = `SELECT id, host FROM sites WHERE host = ?`

	//Accounts
	sqlInsertAccount = `INSERT INTO accounts(uuid, username, name, bio, avatar_url, banner_url, site_id, ap_id, url, ap_followers, public_key_pem, private_key_pem, created_at)
	                    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectAccountColumns = `SELECT a.id, a.uuid, a.username, a.name, a.bio, a.avatar_url, a.banner_url, a.site_id, s.host, a.ap_id, a.url, a.ap_followers, a.public_key_pem, a.private_key_pem
	                           FROM accounts a LEFT JOIN sites s ON s.id = a.site_id`
	sqlSelectAccountByApId   = sqlSelectAccountColumns + ` WHERE a.ap_id = ?`
	sqlSelectAccountBySiteId = sqlSelectAccountColumns + ` WHERE a.site_id = ? ORDER BY a.id ASC LIMIT 1`

	//Follows
	sqlInsertFollow      = `INSERT OR IGNORE INTO follows(follower_id, followee_id) VALUES (?, ?)`
	sqlDeleteFollow      = `DELETE FROM follows WHERE follower_id = ? AND followee_id = ?`
	sqlSelectFollow      = `SELECT COUNT(*) FROM follows WHERE follower_id = ? AND followee_id = ?`
	sqlSelectFollowing   = `SELECT a.ap_id FROM follows f INNER JOIN accounts a ON a.id = f.followee_id WHERE f.follower_id = ? ORDER BY f.rowid DESC LIMIT ? OFFSET ?`
	sqlSelectFollowers   = `SELECT a.ap_id FROM follows f INNER JOIN accounts a ON a.id = f.follower_id WHERE f.followee_id = ? ORDER BY f.rowid DESC LIMIT ? OFFSET ?`
	sqlCountFollowing    = `SELECT COUNT(*) FROM follows WHERE follower_id = ?`
	sqlCountFollowers    = `SELECT COUNT(*) FROM follows WHERE followee_id = ?`

	//Posts
	sqlInsertPost         = `INSERT INTO posts(ap_id) VALUES (?)`
	sqlSelectPostByApId   = `SELECT id, ap_id FROM posts WHERE ap_id = ?`
	sqlSelectPostLikes    = `SELECT account_id FROM post_likes WHERE post_id = ?`
	sqlSelectPostReposts  = `SELECT account_id FROM post_reposts WHERE post_id = ?`
	sqlInsertPostLike     = `INSERT OR IGNORE INTO post_likes(post_id, account_id) VALUES (?, ?)`
	sqlInsertPostRepost   = `INSERT OR IGNORE INTO post_reposts(post_id, account_id) VALUES (?, ?)`
	sqlDeletePostRepost   = `DELETE FROM post_reposts WHERE post_id = ? AND account_id = ?`
)

// New opens the database at the given path and runs the schema migrations.
func New(path string, protocol string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	err = sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
	if err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for the concurrent federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	database := &DB{db: sqlDB, protocol: protocol}

	if err := database.RunMigrations(); err != nil {
		return nil, err
	}

	return database, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// Sites

func (db *DB) CreateSite(ctx context.Context, host string) (*domain.Site, error) {
	var id int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertSite, host)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.Site{Id: id, Host: host}, nil
}

func (db *DB) SiteByHost(ctx context.Context, host string) (*domain.Site, error) {
	var site domain.Site
	err := db.db.QueryRowContext(ctx, sqlSelectSiteByHost, host).Scan(&site.Id, &site.Host)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// Accounts

// CreateInternalAccount creates the local account owning a site, deriving
// its protocol identifiers from the site host.
func (db *DB) CreateInternalAccount(ctx context.Context, site *domain.Site, username, name, bio string, keys *util.RsaKeyPair) (*domain.Account, error) {
	acc, err := domain.NewAccount(domain.AccountData{
		Username:      username,
		Name:          name,
		Bio:           bio,
		Site:          site,
		PublicKeyPem:  keys.Public,
		PrivateKeyPem: keys.Private,
		Protocol:      db.protocol,
	})
	if err != nil {
		return nil, err
	}

	if err := db.insertAccount(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// CreateExternalAccount records a remote identity. Racing inserts for the
// same ap id converge on the first row.
func (db *DB) CreateExternalAccount(ctx context.Context, acc *domain.Account) (*domain.Account, error) {
	if acc.IsInternal() {
		return nil, fmt.Errorf("account %q is not external", acc.Username)
	}

	err := db.insertAccount(ctx, acc)
	if err == nil {
		return acc, nil
	}

	// Unique ap_id violation means someone else won the race
	existing, lookupErr := db.AccountByApId(ctx, acc.ApId)
	if lookupErr == nil && existing != nil {
		return existing, nil
	}
	return nil, err
}

func (db *DB) insertAccount(ctx context.Context, acc *domain.Account) error {
	var siteId interface{}
	if acc.Site != nil {
		siteId = acc.Site.Id
	}

	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertAccount,
			acc.Uuid.String(),
			acc.Username,
			acc.Name,
			acc.Bio,
			acc.AvatarURL,
			acc.BannerURL,
			siteId,
			acc.ApId,
			acc.Url,
			acc.ApFollowers,
			acc.PublicKeyPem,
			acc.PrivateKeyPem,
			time.Now(),
		)
		if err != nil {
			return err
		}
		acc.Id, err = res.LastInsertId()
		return err
	})
}

func (db *DB) scanAccount(row *sql.Row) (*domain.Account, error) {
	var (
		id            int64
		uuidStr       string
		username      string
		name          sql.NullString
		bio           sql.NullString
		avatarURL     sql.NullString
		bannerURL     sql.NullString
		siteId        sql.NullInt64
		siteHost      sql.NullString
		apId          string
		accountUrl    sql.NullString
		apFollowers   sql.NullString
		publicKeyPem  sql.NullString
		privateKeyPem sql.NullString
	)

	err := row.Scan(&id, &uuidStr, &username, &name, &bio, &avatarURL, &bannerURL, &siteId, &siteHost, &apId, &accountUrl, &apFollowers, &publicKeyPem, &privateKeyPem)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	accountUuid, err := uuid.Parse(uuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid account uuid %q: %w", uuidStr, err)
	}

	var site *domain.Site
	if siteId.Valid {
		site = &domain.Site{Id: siteId.Int64, Host: siteHost.String}
	}

	return domain.NewAccount(domain.AccountData{
		Id:            id,
		Uuid:          accountUuid,
		Username:      username,
		Name:          name.String,
		Bio:           bio.String,
		AvatarURL:     avatarURL.String,
		BannerURL:     bannerURL.String,
		Site:          site,
		ApId:          apId,
		Url:           accountUrl.String,
		ApFollowers:   apFollowers.String,
		PublicKeyPem:  publicKeyPem.String,
		PrivateKeyPem: privateKeyPem.String,
		Protocol:      db.protocol,
	})
}

func (db *DB) AccountByApId(ctx context.Context, apId string) (*domain.Account, error) {
	return db.scanAccount(db.db.QueryRowContext(ctx, sqlSelectAccountByApId, apId))
}

// DefaultAccountForSite returns the site's owning account. A site without
// one is a configuration error.
func (db *DB) DefaultAccountForSite(ctx context.Context, site *domain.Site) (*domain.Account, error) {
	acc, err := db.scanAccount(db.db.QueryRowContext(ctx, sqlSelectAccountBySiteId, site.Id))
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDefaultAccount, site.Host)
	}
	return acc, nil
}

/// Follow graph. Both mutations are idempotent: recording an existing edge
// or removing a missing one is a no-op.

func (db *DB) RecordFollow(ctx context.Context, followee, follower *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertFollow, follower.Id, followee.Id)
		return err
	})
}

func (db *DB) RecordUnfollow(ctx context.Context, followee, follower *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteFollow, follower.Id, followee.Id)
		return err
	})
}

func (db *DB) IsFollowing(ctx context.Context, follower, followee *domain.Account) (bool, error) {
	var count int
	err := db.db.QueryRowContext(ctx, sqlSelectFollow, follower.Id, followee.Id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) selectApIds(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apIds []string
	for rows.Next() {
		var apId string
		if err := rows.Scan(&apId); err != nil {
			return nil, err
		}
		apIds = append(apIds, apId)
	}
	return apIds, rows.Err()
}

func (db *DB) FollowingApIds(ctx context.Context, acc *domain.Account, limit, offset int) ([]string, error) {
	return db.selectApIds(ctx, sqlSelectFollowing, acc.Id, limit, offset)
}

func (db *DB) FollowersApIds(ctx context.Context, acc *domain.Account, limit, offset int) ([]string, error) {
	return db.selectApIds(ctx, sqlSelectFollowers, acc.Id, limit, offset)
}

func (db *DB) CountFollowing(ctx context.Context, acc *domain.Account) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, sqlCountFollowing, acc.Id).Scan(&count)
	return count, err
}

func (db *DB) CountFollowers(ctx context.Context, acc *domain.Account) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, sqlCountFollowers, acc.Id).Scan(&count)
	return count, err
}

// Posts

// PostByApId looks up a post by its canonical identifier, creating a local
// shadow record on first sight.
func (db *DB) PostByApId(ctx context.Context, apId string) (*domain.Post, error) {
	var id int64
	err := db.db.QueryRowContext(ctx, sqlSelectPostByApId, apId).Scan(&id, &apId)
	if err == sql.ErrNoRows {
		err = db.wrapTransaction(func(tx *sql.Tx) error {
			res, insertErr := tx.ExecContext(ctx, sqlInsertPost, apId)
			if insertErr != nil {
				return insertErr
			}
			id, insertErr = res.LastInsertId()
			return insertErr
		})
		if err != nil {
			// Concurrent first sight: fall back to the winning row
			if scanErr := db.db.QueryRowContext(ctx, sqlSelectPostByApId, apId).Scan(&id, &apId); scanErr != nil {
				return nil, err
			}
		}
		return domain.NewPost(id, apId, nil, nil), nil
	}
	if err != nil {
		return nil, err
	}

	likedBy, err := db.selectMemberIds(ctx, sqlSelectPostLikes, id)
	if err != nil {
		return nil, err
	}
	repostedBy, err := db.selectMemberIds(ctx, sqlSelectPostReposts, id)
	if err != nil {
		return nil, err
	}

	return domain.NewPost(id, apId, likedBy, repostedBy), nil
}

func (db *DB) selectMemberIds(ctx context.Context, query string, postId int64) ([]int64, error) {
	rows, err := db.db.QueryContext(ctx, query, postId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SavePost applies the aggregate's pending like/repost mutations. All
// statements are idempotent, so replaying a save converges.
func (db *DB) SavePost(ctx context.Context, post *domain.Post) error {
	changes := post.Changes()

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		for _, accountId := range changes.AddedLikes {
			if _, err := tx.ExecContext(ctx, sqlInsertPostLike, post.Id, accountId); err != nil {
				return err
			}
		}
		for _, accountId := range changes.AddedReposts {
			if _, err := tx.ExecContext(ctx, sqlInsertPostRepost, post.Id, accountId); err != nil {
				return err
			}
		}
		for _, accountId := range changes.RemovedReposts {
			if _, err := tx.ExecContext(ctx, sqlDeletePostRepost, post.Id, accountId); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	post.ResetChanges()
	return nil
}
