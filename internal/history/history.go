// Package history keeps a local journal of published comics.
// The journal is informational only; comic selection never reads it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	comic_num INTEGER NOT NULL,
	title     TEXT NOT NULL,
	image_url TEXT NOT NULL,
	target    TEXT NOT NULL,
	post_ref  TEXT NOT NULL,
	posted_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_posted_at ON posts(posted_at);
`

// Entry is one published post.
type Entry struct {
	ID       int64
	ComicNum int
	Title    string
	ImageURL string
	Target   string
	PostRef  string
	PostedAt time.Time
}

type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the journal at path. ":memory:" works for tests.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

func (j *Journal) Close() error { return j.db.Close() }

// Record appends e; PostedAt defaults to now.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.PostedAt.IsZero() {
		e.PostedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO posts (comic_num, title, image_url, target, post_ref, posted_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ComicNum, e.Title, e.ImageURL, e.Target, e.PostRef, e.PostedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record post: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, comic_num, title, image_url, target, post_ref, posted_at
FROM posts
ORDER BY posted_at DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.ComicNum, &e.Title, &e.ImageURL, &e.Target, &e.PostRef, &ts); err != nil {
			return nil, err
		}
		e.PostedAt, _ = time.Parse(time.RFC3339, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
