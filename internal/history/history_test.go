package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecent_Empty(t *testing.T) {
	j := newTestJournal(t)
	got, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordAndRecent_NewestFirst(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	for i, num := range []int{614, 1, 2000} {
		require.NoError(t, j.Record(ctx, Entry{
			ComicNum: num,
			Title:    "t",
			ImageURL: "https://imgs.xkcd.com/comics/x.png",
			Target:   "vk-wall",
			PostRef:  "wall-1_" + string(rune('0'+i)),
			PostedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2000, got[0].ComicNum)
	assert.Equal(t, 1, got[1].ComicNum)
	assert.True(t, got[0].PostedAt.Equal(base.Add(2*time.Hour)))
}

func TestRecord_DefaultsTimestamp(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)
	fixed := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	require.NoError(t, j.Record(ctx, Entry{ComicNum: 5, Title: "t", Target: "vk-album", PostRef: "photo-1_2"}))
	got, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].PostedAt.Equal(fixed))
}

func TestOpen_FileIsReusable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.sqlite")

	j, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, Entry{ComicNum: 9, Title: "t", Target: "vk-wall", PostRef: "wall-1_1"}))
	require.NoError(t, j.Close())

	j, err = Open(ctx, path)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 9, got[0].ComicNum)
}

func TestRecord_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO posts").
		WithArgs(614, "Woodpecker", "https://imgs.xkcd.com/comics/woodpecker.png", "vk-wall", "wall-1_2", sqlmock.AnyArg()).
		WillReturnError(errors.New("database is locked"))

	j := New(db)
	err = j.Record(context.Background(), Entry{
		ComicNum: 614,
		Title:    "Woodpecker",
		ImageURL: "https://imgs.xkcd.com/comics/woodpecker.png",
		Target:   "vk-wall",
		PostRef:  "wall-1_2",
	})
	assert.ErrorContains(t, err, "record post: database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM posts").WithArgs(20).WillReturnError(errors.New("no such table: posts"))

	_, err = New(db).Recent(context.Background(), 0)
	assert.ErrorContains(t, err, "list posts")
	assert.NoError(t, mock.ExpectationsWereMet())
}
