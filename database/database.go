package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/apex/log"
	"github.com/go-sql-driver/mysql"

	"contribapp/config"
	"contribapp/models"
)

const maxPingInterval = 30 * time.Second

// Database handles all database operations
type Database struct {
	db *sql.DB
}

// New wraps an already opened connection pool.
func New(db *sql.DB) *Database {
	return &Database{db: db}
}

// NewDatabase opens the MySQL pool and waits for the server to answer a ping,
// backing off exponentially up to cfg.DBPingMaxWait.
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := mysql.NewConfig()
	dsn.User = cfg.DBUser
	dsn.Passwd = cfg.DBPassword
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
	dsn.DBName = cfg.DBName
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	if cfg.DBConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	}

	deadline := time.Now().Add(cfg.DBPingMaxWait)
	waitInterval := time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		pingErr := db.PingContext(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		if time.Now().After(deadline) {
			db.Close()
			return nil, fmt.Errorf("database ping timeout after %v: %w", cfg.DBPingMaxWait, pingErr)
		}
		log.Warnf("Database connection failed, retrying in %v: %v", waitInterval, pingErr)
		time.Sleep(waitInterval)
		waitInterval *= 2
		if waitInterval > maxPingInterval {
			waitInterval = maxPingInterval
		}
	}

	log.Infof("Established db connection pool to %s/%s: open=%d idle=%d max_lifetime=%v",
		dsn.Addr, cfg.DBName, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// EnsureTables creates the posts and media tables if they don't exist
func (d *Database) EnsureTables(ctx context.Context) error {
	queries := []struct {
		table string
		query string
	}{
		{"posts", `
		CREATE TABLE IF NOT EXISTS posts (
			id BIGINT NOT NULL AUTO_INCREMENT,
			user_id BIGINT NOT NULL,
			title VARCHAR(100) NOT NULL,
			category VARCHAR(32) NOT NULL,
			description TEXT NOT NULL,
			location VARCHAR(64) NOT NULL,
			wallet_address CHAR(42) NOT NULL,
			activity_log LONGTEXT,
			ledger_status ENUM('pending', 'submitting', 'submitted', 'failed') NOT NULL DEFAULT 'pending',
			ledger_response TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			INDEX user_id_index (user_id),
			INDEX ledger_status_index (ledger_status)
		)`},
		{"media", `
		CREATE TABLE IF NOT EXISTS media (
			id BIGINT NOT NULL AUTO_INCREMENT,
			url VARCHAR(512) NOT NULL,
			user_id BIGINT NOT NULL,
			post_id BIGINT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			INDEX post_id_index (post_id),
			FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
		)`},
	}

	for _, q := range queries {
		if _, err := d.db.ExecContext(ctx, q.query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", q.table, err)
		}
		log.Infof("Table %s ensured", q.table)
	}
	return nil
}

// CreatePost inserts a post and returns its id. An empty ActivityLog is stored as NULL.
func (d *Database) CreatePost(ctx context.Context, p *models.Post) (int64, error) {
	status := p.LedgerStatus
	if status == "" {
		status = models.LedgerPending
	}
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO posts (user_id, title, category, description, location, wallet_address, activity_log, ledger_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Title, p.Category, p.Description, p.Location, p.WalletAddress, nullString(p.ActivityLog), string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to insert post: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get post id: %w", err)
	}
	return id, nil
}

func (d *Database) UpdatePostActivityLog(ctx context.Context, postID int64, activityLog string) error {
	result, err := d.db.ExecContext(ctx, "UPDATE posts SET activity_log = ? WHERE id = ?", nullString(activityLog), postID)
	logResult("UpdatePostActivityLog", result, err, true)
	if err != nil {
		return fmt.Errorf("failed to update activity log of post %d: %w", postID, err)
	}
	return nil
}

func (d *Database) UpdateLedgerStatus(ctx context.Context, postID int64, status models.LedgerStatus, response string) error {
	result, err := d.db.ExecContext(ctx, "UPDATE posts SET ledger_status = ?, ledger_response = ? WHERE id = ?",
		string(status), nullString(response), postID)
	logResult("UpdateLedgerStatus", result, err, true)
	if err != nil {
		return fmt.Errorf("failed to update ledger status of post %d: %w", postID, err)
	}
	return nil
}

// ClaimLedgerSubmission moves a pending post to submitting. It reports false when the
// post is no longer pending, i.e. a retry already owns its ledger submission.
func (d *Database) ClaimLedgerSubmission(ctx context.Context, postID int64) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE posts SET ledger_status = 'submitting', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND ledger_status = 'pending'`, postID)
	return claimed("ClaimLedgerSubmission", postID, result, err)
}

// ClaimLedgerRetry moves a failed post to submitting, or a pending or submitting post
// that has not been touched for staleAfter. Only one concurrent caller wins the claim.
func (d *Database) ClaimLedgerRetry(ctx context.Context, postID int64, staleAfter time.Duration) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE posts SET ledger_status = 'submitting', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND (ledger_status = 'failed'
			OR (ledger_status IN ('pending', 'submitting') AND updated_at < NOW() - INTERVAL ? SECOND))`,
		postID, int64(staleAfter/time.Second))
	return claimed("ClaimLedgerRetry", postID, result, err)
}

func claimed(op string, postID int64, result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s of post %d: %w", op, postID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s of post %d: %w", op, postID, err)
	}
	return rows == 1, nil
}

// GetPost returns the post with its media, or models.ErrPostNotFound.
func (d *Database) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	var p models.Post
	var activityLog, ledgerResponse sql.NullString
	var status string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, category, description, location, wallet_address,
			activity_log, ledger_status, ledger_response, created_at, updated_at
		FROM posts WHERE id = ?`, id).Scan(
		&p.ID, &p.UserID, &p.Title, &p.Category, &p.Description, &p.Location, &p.WalletAddress,
		&activityLog, &status, &ledgerResponse, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %d: %w", id, err)
	}
	p.ActivityLog = activityLog.String
	p.LedgerResponse = ledgerResponse.String
	p.LedgerStatus = models.LedgerStatus(status)

	if p.Media, err = d.ListMediaByPost(ctx, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePost removes the post and its media rows in one transaction.
func (d *Database) DeletePost(ctx context.Context, id int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM media WHERE post_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete media of post %d: %w", id, err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete post %d: %w", id, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return models.ErrPostNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of post %d: %w", id, err)
	}
	return nil
}

func (d *Database) CreateMedia(ctx context.Context, m *models.Media) (int64, error) {
	result, err := d.db.ExecContext(ctx, "INSERT INTO media (url, user_id, post_id) VALUES (?, ?, ?)",
		m.URL, m.UserID, m.PostID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert media %s: %w", m.URL, err)
	}
	return result.LastInsertId()
}

func (d *Database) ListMediaByPost(ctx context.Context, postID int64) ([]models.Media, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, url, user_id, post_id, created_at FROM media WHERE post_id = ? ORDER BY id", postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list media of post %d: %w", postID, err)
	}
	defer rows.Close()

	media := []models.Media{}
	for rows.Next() {
		var m models.Media
		if err := rows.Scan(&m.ID, &m.URL, &m.UserID, &m.PostID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		media = append(media, m)
	}
	return media, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func logResult(msgPrefix string, r sql.Result, e error, expectOne bool) {
	if e != nil {
		log.Errorf("%s: query failed: %v", msgPrefix, e)
		return
	}
	rows, err := r.RowsAffected()
	if err != nil {
		log.Errorf("%s: failed to get status of db op: %v", msgPrefix, err)
		return
	}
	if expectOne && rows != 1 {
		log.Warnf("%s: expected to affect 1 row, affected %d", msgPrefix, rows)
	}
}
