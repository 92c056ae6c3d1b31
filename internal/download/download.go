// Package download saves remote images to the local images directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/dghubble/sling"
	"github.com/sirupsen/logrus"

	"github.com/mikequentel/comicpost/internal/httpx"
)

// DefaultChunkSize is the copy buffer used while streaming a body to disk.
const DefaultChunkSize = 1024

// ErrEmptyName is returned when no file name can be derived for a download.
var ErrEmptyName = errors.New("empty file name")

// FilenameFromURL returns the last segment of the URL path, eg "woodpecker.png".
// Query and fragment are ignored. An empty or root path yields "".
func FilenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := u.Path
	if p == "" || p == "/" {
		return ""
	}
	base := path.Base(p)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// Downloader streams HTTP bodies into files.
type Downloader struct {
	sling     *sling.Sling
	client    *http.Client
	chunkSize int
	log       logrus.FieldLogger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// WithLogger sets the logger used for download events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.log = l
		}
	}
}

func New(client *http.Client, opts ...Option) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Downloader{
		sling:     httpx.NewSling(client, ""),
		client:    client,
		chunkSize: DefaultChunkSize,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches rawURL into dir/name and returns the file path.
// With overwrite false an existing regular file is returned untouched and no
// request is made.
func (d *Downloader) Download(ctx context.Context, rawURL, dir, name string, overwrite bool) (string, error) {
	if name == "" {
		return "", fmt.Errorf("download %s: %w", rawURL, ErrEmptyName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}
	dest := filepath.Join(dir, name)

	if !overwrite && existsFile(dest) {
		d.log.WithField("path", dest).Debug("image already present, skipping download")
		return dest, nil
	}

	req, err := d.sling.New().Get(rawURL).Request()
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckResponse(resp); err != nil {
		return "", err
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	n, err := io.CopyBuffer(onlyWriter{f}, resp.Body, make([]byte, d.chunkSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write image %s: %w", dest, err)
	}
	d.log.WithFields(logrus.Fields{"path": dest, "bytes": n}).Info("image downloaded")
	return dest, nil
}

// onlyWriter hides *os.File's ReadFrom so CopyBuffer honours the chunk size.
type onlyWriter struct{ io.Writer }

func existsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
