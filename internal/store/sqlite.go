package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"postpilot/internal/catalog"
	"postpilot/internal/post"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const postColumns = `id, content_id, destination_id, platform, caption, media_json,
	scheduled_time, status, retry_count, last_error, platform_url, next_retry_at,
	created_at, updated_at`

func (s *sqliteStore) CreatePosts(ctx context.Context, posts []post.ScheduledPost) error {
	if len(posts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range posts {
		var mediaJSON any
		if len(p.Media) > 0 {
			b, err := json.Marshal(p.Media)
			if err != nil {
				return err
			}
			mediaJSON = string(b)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled_posts(`+postColumns+`)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.ID, p.ContentID, p.DestinationID, p.Platform, p.Caption, mediaJSON,
			p.ScheduledTime.UnixMilli(), string(p.Status), p.RetryCount,
			nullStr(p.LastError), nullStr(p.PlatformURL), nullTime(p.NextRetryAt),
			p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			// The partial unique index rejects double-booked slots.
			if strings.Contains(err.Error(), "idx_posts_slot") || strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("%w: destination %s at %s", ErrDuplicateSlot, p.DestinationID, p.ScheduledTime.UTC().Format(time.RFC3339))
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (post.ScheduledPost, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return post.ScheduledPost{}, post.ErrNotFound
	}
	return p, err
}

func (s *sqliteStore) List(ctx context.Context) ([]post.ScheduledPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts ORDER BY scheduled_time ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

func (s *sqliteStore) FindDue(ctx context.Context, now time.Time) ([]post.ScheduledPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts
		 WHERE status = ? AND scheduled_time <= ?
		 ORDER BY scheduled_time ASC, id ASC`,
		string(post.StatusScheduled), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

func (s *sqliteStore) FindRetryable(ctx context.Context, now time.Time) ([]post.ScheduledPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts
		 WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at ASC, id ASC`,
		string(post.StatusFailed), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

// Claim is the single atomic conditional update that grants exclusive
// publishing rights: whichever caller flips scheduled->posting first wins.
func (s *sqliteStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(post.StatusPosting), time.Now().UnixMilli(),
		id, string(post.StatusScheduled))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, s.missingOr(ctx, id, nil)
	}
	return true, nil
}

func (s *sqliteStore) Requeue(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET status = ?, next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(post.StatusScheduled), at.UnixMilli(),
		id, string(post.StatusFailed))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, s.missingOr(ctx, id, nil)
	}
	return true, nil
}

func (s *sqliteStore) MarkPosted(ctx context.Context, id, platformURL string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_posts
		 SET status = ?, platform_url = ?, last_error = NULL, next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(post.StatusPosted), platformURL, at.UnixMilli(),
		id, string(post.StatusPosting))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.missingOr(ctx, id, illegalTo(post.StatusPosted))
	}
	return nil
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id, lastError string, nextRetryAt *time.Time, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_posts
		 SET status = ?, last_error = ?, retry_count = retry_count + 1, next_retry_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(post.StatusFailed), lastError, nullTime(nextRetryAt), at.UnixMilli(),
		id, string(post.StatusPosting))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.missingOr(ctx, id, illegalTo(post.StatusFailed))
	}
	return nil
}

func (s *sqliteStore) Cancel(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET status = ?, next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?,?,?)`,
		string(post.StatusCancelled), at.UnixMilli(), id,
		string(post.StatusDraft), string(post.StatusScheduled), string(post.StatusFailed))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.missingOr(ctx, id, illegalTo(post.StatusCancelled))
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return post.ErrNotFound
	}
	return nil
}

// missingOr distinguishes "no such post" from "post exists in the wrong
// state". When mkErr is nil, the wrong-state case is reported as a lost
// race (nil error, false claim) by the caller; otherwise mkErr builds the
// transition error from the current status.
func (s *sqliteStore) missingOr(ctx context.Context, id string, mkErr func(cur post.Status) error) error {
	var cur string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM scheduled_posts WHERE id = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return post.ErrNotFound
	}
	if err != nil {
		return err
	}
	if mkErr == nil {
		return nil
	}
	return mkErr(post.Status(cur))
}

func illegalTo(to post.Status) func(cur post.Status) error {
	return func(cur post.Status) error {
		return &post.IllegalTransitionError{From: cur, To: to}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (post.ScheduledPost, error) {
	var (
		p           post.ScheduledPost
		status      string
		mediaJSON   sql.NullString
		lastError   sql.NullString
		platformURL sql.NullString
		schedMS     int64
		nextMS      sql.NullInt64
		createdMS   int64
		updatedMS   int64
	)
	err := r.Scan(&p.ID, &p.ContentID, &p.DestinationID, &p.Platform, &p.Caption, &mediaJSON,
		&schedMS, &status, &p.RetryCount, &lastError, &platformURL, &nextMS,
		&createdMS, &updatedMS)
	if err != nil {
		return post.ScheduledPost{}, err
	}
	p.Status = post.Status(status)
	p.ScheduledTime = time.UnixMilli(schedMS).UTC()
	p.CreatedAt = time.UnixMilli(createdMS).UTC()
	p.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	p.LastError = lastError.String
	p.PlatformURL = platformURL.String
	if nextMS.Valid {
		t := time.UnixMilli(nextMS.Int64).UTC()
		p.NextRetryAt = &t
	}
	if mediaJSON.Valid && mediaJSON.String != "" {
		var media []catalog.MediaRef
		if err := json.Unmarshal([]byte(mediaJSON.String), &media); err != nil {
			return post.ScheduledPost{}, fmt.Errorf("post %s: media: %w", p.ID, err)
		}
		p.Media = media
	}
	return p, nil
}

func scanPosts(rows *sql.Rows) ([]post.ScheduledPost, error) {
	var out []post.ScheduledPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
