package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikequentel/comicpost/internal/download"
	"github.com/mikequentel/comicpost/internal/history"
	"github.com/mikequentel/comicpost/internal/logging"
	"github.com/mikequentel/comicpost/internal/model"
)

type fakeSource struct {
	comic *model.Comic
	err   error
	calls int
}

func (f *fakeSource) Random(context.Context) (*model.Comic, error) {
	f.calls++
	return f.comic, f.err
}

// fakeDownloader writes a small file instead of fetching.
type fakeDownloader struct {
	err   error
	calls int
}

func (f *fakeDownloader) Download(_ context.Context, _, dir, name string, _ bool) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, name)
	return p, os.WriteFile(p, []byte("PNG"), 0o644)
}

type fakePublisher struct {
	name     string
	err      error
	got      []model.Post
	sawImage bool
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(_ context.Context, post model.Post) (*model.PostResult, error) {
	f.got = append(f.got, post)
	_, statErr := os.Stat(post.ImagePath)
	f.sawImage = statErr == nil
	if f.err != nil {
		return nil, f.err
	}
	return &model.PostResult{Target: f.name, Ref: "wall-1_42", URL: "https://vk.com/wall-1_42"}, nil
}

type fakeJournal struct {
	entries []history.Entry
	err     error
}

func (f *fakeJournal) Record(_ context.Context, e history.Entry) error {
	f.entries = append(f.entries, e)
	return f.err
}

func testComic() *model.Comic {
	return &model.Comic{
		Num:      614,
		Title:    "Woodpecker",
		Caption:  "If you don't have an extension cord I can get that too.",
		ImageURL: "https://imgs.xkcd.com/comics/woodpecker.png",
	}
}

func newRunner(t *testing.T, src ComicSource, dl Downloader, pub Publisher, opts ...Option) (*Runner, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "images")
	opts = append([]Option{
		WithImages(dir, true),
		WithLogger(logging.Discard()),
		WithRunID(func() string { return "run-1" }),
	}, opts...)
	return New(src, dl, pub, opts...), dir
}

func TestRun_SuccessRemovesImage(t *testing.T) {
	src := &fakeSource{comic: testComic()}
	pub := &fakePublisher{name: "vk-wall"}
	j := &fakeJournal{}
	r, dir := newRunner(t, src, &fakeDownloader{}, pub, WithJournal(j))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, "wall-1_42", rep.Primary.Ref)

	require.Len(t, pub.got, 1)
	assert.True(t, pub.sawImage)
	assert.Equal(t, testComic().Caption, pub.got[0].Message)
	assert.Equal(t, filepath.Join(dir, "woodpecker.png"), pub.got[0].ImagePath)

	_, statErr := os.Stat(rep.ImagePath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "image should be removed")

	require.Len(t, j.entries, 1)
	assert.Equal(t, 614, j.entries[0].ComicNum)
	assert.Equal(t, "vk-wall", j.entries[0].Target)
	assert.Equal(t, "wall-1_42", j.entries[0].PostRef)
}

func TestRun_SourceFailureStopsEverything(t *testing.T) {
	src := &fakeSource{err: errors.New("GET https://xkcd.com/info.0.json: connection refused")}
	dl := &fakeDownloader{}
	pub := &fakePublisher{name: "vk-wall"}
	r, _ := newRunner(t, src, dl, pub)

	_, err := r.Run(context.Background())
	require.ErrorContains(t, err, "fetch comic")
	assert.Zero(t, dl.calls)
	assert.Empty(t, pub.got)
}

func TestRun_PublishFailureKeepsImage(t *testing.T) {
	boom := errors.New("upload endpoint unreachable")
	pub := &fakePublisher{name: "vk-wall", err: boom}
	mirror := &fakePublisher{name: "x"}
	j := &fakeJournal{}
	r, dir := newRunner(t, &fakeSource{comic: testComic()}, &fakeDownloader{}, pub,
		WithMirrors(mirror), WithJournal(j))

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "publish to vk-wall")

	assert.FileExists(t, filepath.Join(dir, "woodpecker.png"))
	assert.Empty(t, mirror.got)
	assert.Empty(t, j.entries)
}

func TestRun_CleanupOnFailure(t *testing.T) {
	pub := &fakePublisher{name: "vk-wall", err: errors.New("nope")}
	r, dir := newRunner(t, &fakeSource{comic: testComic()}, &fakeDownloader{}, pub, WithCleanupOnFailure(true))

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "woodpecker.png"))
}

func TestRun_DownloadFailure(t *testing.T) {
	dl := &fakeDownloader{err: errors.New("disk full")}
	pub := &fakePublisher{name: "vk-wall"}
	r, _ := newRunner(t, &fakeSource{comic: testComic()}, dl, pub)

	_, err := r.Run(context.Background())
	require.ErrorContains(t, err, "download image")
	assert.Empty(t, pub.got)
}

func TestRun_EmptyImageName(t *testing.T) {
	c := testComic()
	c.ImageURL = "https://imgs.xkcd.com/"
	dl := &fakeDownloader{}
	r, _ := newRunner(t, &fakeSource{comic: c}, dl, &fakePublisher{name: "vk-wall"})

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, download.ErrEmptyName)
	assert.Zero(t, dl.calls)
}

func TestRun_MirrorFailureIsWarning(t *testing.T) {
	pub := &fakePublisher{name: "vk-wall"}
	mirror := &fakePublisher{name: "x", err: errors.New("HTTP 403")}
	r, _ := newRunner(t, &fakeSource{comic: testComic()}, &fakeDownloader{}, pub, WithMirrors(mirror))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Mirrors, 1)
	assert.Equal(t, "x", rep.Mirrors[0].Target)
	assert.Error(t, rep.Mirrors[0].Err)
	assert.True(t, mirror.sawImage, "mirror runs before cleanup")
}

func TestRun_JournalFailureIsWarning(t *testing.T) {
	j := &fakeJournal{err: errors.New("database is locked")}
	r, _ := newRunner(t, &fakeSource{comic: testComic()}, &fakeDownloader{}, &fakePublisher{name: "vk-wall"}, WithJournal(j))

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, j.entries, 1)
}

func TestRun_DryRun(t *testing.T) {
	dl := &fakeDownloader{}
	pub := &fakePublisher{name: "vk-wall"}
	j := &fakeJournal{}
	r, dir := newRunner(t, &fakeSource{comic: testComic()}, dl, pub, WithDryRun(true), WithJournal(j))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Nil(t, rep.Primary)
	assert.Equal(t, 1, dl.calls)
	assert.Empty(t, pub.got)
	assert.Empty(t, j.entries)
	assert.NoFileExists(t, filepath.Join(dir, "woodpecker.png"))
}

func TestRun_NoPublisher(t *testing.T) {
	r, _ := newRunner(t, &fakeSource{comic: testComic()}, &fakeDownloader{}, nil)
	_, err := r.Run(context.Background())
	assert.ErrorContains(t, err, "no publisher")
}

func TestRun_WoodpeckerLandsInImagesDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/comics/woodpecker.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG woodpecker"))
	}))
	defer srv.Close()

	c := testComic()
	c.ImageURL = srv.URL + "/comics/woodpecker.png"

	var seen string
	pub := &checkingPublisher{check: func(p model.Post) {
		b, err := os.ReadFile(p.ImagePath)
		require.NoError(t, err)
		seen = string(b)
	}}
	dl := download.New(srv.Client(), download.WithLogger(logging.Discard()))
	r, dir := newRunner(t, &fakeSource{comic: c}, dl, pub)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "woodpecker.png"), rep.ImagePath)
	assert.Equal(t, "\x89PNG woodpecker", seen)
	assert.NoFileExists(t, rep.ImagePath)
}

type checkingPublisher struct {
	check func(model.Post)
}

func (c *checkingPublisher) Name() string { return "vk-wall" }

func (c *checkingPublisher) Publish(_ context.Context, p model.Post) (*model.PostResult, error) {
	c.check(p)
	return &model.PostResult{Target: "vk-wall", Ref: "wall-1_1"}, nil
}
