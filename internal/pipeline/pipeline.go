// Package pipeline runs one posting cycle: random comic, image download,
// primary publish, optional mirrors, journal entry, local cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mikequentel/comicpost/internal/download"
	"github.com/mikequentel/comicpost/internal/history"
	"github.com/mikequentel/comicpost/internal/model"
)

type ComicSource interface {
	Random(ctx context.Context) (*model.Comic, error)
}

type Downloader interface {
	Download(ctx context.Context, rawURL, dir, name string, overwrite bool) (string, error)
}

// Publisher posts a downloaded comic somewhere.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, post model.Post) (*model.PostResult, error)
}

type Journal interface {
	Record(ctx context.Context, e history.Entry) error
}

// MirrorResult is the outcome of one secondary publisher.
type MirrorResult struct {
	Target string
	Result *model.PostResult
	Err    error
}

// Report describes a finished run.
type Report struct {
	RunID     string
	Comic     *model.Comic
	ImagePath string
	DryRun    bool
	Primary   *model.PostResult
	Mirrors   []MirrorResult
}

type Runner struct {
	source    ComicSource
	dl        Downloader
	primary   Publisher
	mirrors   []Publisher
	journal   Journal
	dir       string
	overwrite bool
	cleanFail bool
	dryRun    bool
	newID     func() string
	log       logrus.FieldLogger
}

type Option func(*Runner)

// WithImages sets the download directory and overwrite policy.
func WithImages(dir string, overwrite bool) Option {
	return func(r *Runner) {
		if dir != "" {
			r.dir = dir
		}
		r.overwrite = overwrite
	}
}

// WithCleanupOnFailure removes the image even when the run fails.
func WithCleanupOnFailure(on bool) Option {
	return func(r *Runner) { r.cleanFail = on }
}

func WithDryRun(on bool) Option {
	return func(r *Runner) { r.dryRun = on }
}

func WithMirrors(p ...Publisher) Option {
	return func(r *Runner) { r.mirrors = append(r.mirrors, p...) }
}

func WithJournal(j Journal) Option {
	return func(r *Runner) { r.journal = j }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRunID replaces the uuid generator.
func WithRunID(f func() string) Option {
	return func(r *Runner) {
		if f != nil {
			r.newID = f
		}
	}
}

// New builds a runner. primary may be nil only for dry runs.
func New(src ComicSource, dl Downloader, primary Publisher, opts ...Option) *Runner {
	r := &Runner{
		source:    src,
		dl:        dl,
		primary:   primary,
		dir:       "images",
		overwrite: true,
		newID:     uuid.NewString,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one cycle. The first failing step aborts the run.
func (r *Runner) Run(ctx context.Context) (rep *Report, err error) {
	rep = &Report{RunID: r.newID(), DryRun: r.dryRun}
	log := r.log.WithField("run_id", rep.RunID)

	comic, err := r.source.Random(ctx)
	if err != nil {
		return rep, fmt.Errorf("fetch comic: %w", err)
	}
	rep.Comic = comic
	log = log.WithField("comic", comic.Num)
	log.WithField("title", comic.Title).Info("comic selected")

	name := download.FilenameFromURL(comic.ImageURL)
	if name == "" {
		return rep, fmt.Errorf("comic %d image %q: %w", comic.Num, comic.ImageURL, download.ErrEmptyName)
	}

	dest := filepath.Join(r.dir, name)
	defer func() {
		if err != nil && !r.cleanFail {
			log.WithField("path", dest).Info("keeping image after failure")
			return
		}
		r.remove(log, dest)
	}()

	path, err := r.dl.Download(ctx, comic.ImageURL, r.dir, name, r.overwrite)
	if err != nil {
		return rep, fmt.Errorf("download image: %w", err)
	}
	dest = path
	rep.ImagePath = path

	post := model.Post{Comic: comic, ImagePath: path, Message: comic.Caption}

	if r.dryRun {
		target := "none"
		if r.primary != nil {
			target = r.primary.Name()
		}
		log.WithFields(logrus.Fields{
			"target":  target,
			"image":   path,
			"message": post.Message,
			"mirrors": len(r.mirrors),
		}).Info("dry run, nothing posted")
		return rep, nil
	}

	if r.primary == nil {
		return rep, errors.New("no publisher configured")
	}
	res, err := r.primary.Publish(ctx, post)
	if err != nil {
		return rep, fmt.Errorf("publish to %s: %w", r.primary.Name(), err)
	}
	rep.Primary = res
	log.WithFields(logrus.Fields{"target": res.Target, "ref": res.Ref, "url": res.URL}).Info("comic posted")

	for _, m := range r.mirrors {
		mr := MirrorResult{Target: m.Name()}
		mr.Result, mr.Err = m.Publish(ctx, post)
		if mr.Err != nil {
			log.WithError(mr.Err).WithField("target", mr.Target).Warn("mirror failed")
		}
		rep.Mirrors = append(rep.Mirrors, mr)
	}

	if r.journal != nil {
		e := history.Entry{
			ComicNum: comic.Num,
			Title:    comic.Title,
			ImageURL: comic.ImageURL,
			Target:   res.Target,
			PostRef:  res.Ref,
		}
		// journal failures are warnings only
		if jerr := r.journal.Record(ctx, e); jerr != nil {
			log.WithError(jerr).Warn("journal write failed")
		}
	}
	return rep, nil
}

func (r *Runner) remove(log logrus.FieldLogger, path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		log.WithField("path", path).Debug("image removed")
	case errors.Is(err, fs.ErrNotExist):
	default:
		log.WithError(err).WithField("path", path).Warn("could not remove image")
	}
}
