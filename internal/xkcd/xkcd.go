// Package xkcd is a small client for the xkcd JSON interface.
package xkcd

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dghubble/sling"
	"github.com/sirupsen/logrus"

	"github.com/mikequentel/comicpost/internal/httpx"
	"github.com/mikequentel/comicpost/internal/model"
)

const (
	DefaultBaseURL  = "https://xkcd.com"
	DefaultMaxDraws = 3
	infoFile        = "info.0.json"
)

// ErrComicNotFound means every drawn number was missing upstream.
var ErrComicNotFound = errors.New("comic not found")

type Client struct {
	sling    *sling.Sling
	maxDraws int
	intn     func(n int) int
	log      logrus.FieldLogger
}

type Option func(*Client)

// WithMaxDraws bounds how many random numbers Random tries.
func WithMaxDraws(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxDraws = n
		}
	}
}

// WithRand replaces the number source; intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(c *Client) {
		if intn != nil {
			c.intn = intn
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func NewClient(client *http.Client, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		sling:    httpx.NewSling(client, strings.TrimRight(baseURL, "/")+"/"),
		maxDraws: DefaultMaxDraws,
		intn:     rand.Intn,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest returns the newest comic; its Num is the largest valid number.
func (c *Client) Latest(ctx context.Context) (*model.Comic, error) {
	return c.fetch(ctx, infoFile)
}

// Comic returns comic num.
func (c *Client) Comic(ctx context.Context, num int) (*model.Comic, error) {
	if num < 1 {
		return nil, fmt.Errorf("comic number must be positive, got %d", num)
	}
	return c.fetch(ctx, strconv.Itoa(num)+"/"+infoFile)
}

// Random picks a uniform number in [1, latest] and fetches it. A 404 draws
// again, up to the configured number of draws.
func (c *Client) Random(ctx context.Context) (*model.Comic, error) {
	latest, err := c.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch latest comic: %w", err)
	}
	if latest.Num < 1 {
		return nil, fmt.Errorf("latest comic has invalid number %d", latest.Num)
	}
	for draw := 1; draw <= c.maxDraws; draw++ {
		num := c.intn(latest.Num) + 1
		comic, err := c.Comic(ctx, num)
		if err == nil {
			c.log.WithFields(logrus.Fields{"num": num, "max": latest.Num, "draw": draw}).Info("picked comic")
			return comic, nil
		}
		if !isNotFound(err) {
			return nil, fmt.Errorf("fetch comic %d: %w", num, err)
		}
		c.log.WithField("num", num).Warn("comic number missing upstream, drawing again")
	}
	return nil, fmt.Errorf("%d draws from [1, %d]: %w", c.maxDraws, latest.Num, ErrComicNotFound)
}

func (c *Client) fetch(ctx context.Context, path string) (*model.Comic, error) {
	var raw model.ComicJSON
	req := c.sling.New().Get(path)
	if err := httpx.Receive(ctx, req, &raw); err != nil {
		return nil, err
	}
	if raw.Img == "" {
		return nil, fmt.Errorf("comic %d has no image url", raw.Num)
	}
	return toComic(raw), nil
}

func toComic(raw model.ComicJSON) *model.Comic {
	title := raw.SafeTitle
	if title == "" {
		title = raw.Title
	}
	// alt is plain text with entities; anything that looks like markup is literal
	caption := html.UnescapeString(raw.Alt)
	if strings.TrimSpace(caption) == "" {
		caption = title
	}
	return &model.Comic{
		Num:      raw.Num,
		Title:    title,
		Caption:  caption,
		ImageURL: raw.Img,
		Date:     parseDate(raw.Year, raw.Month, raw.Day),
		News:     PlainText(raw.News),
	}
}

// PlainText renders an HTML fragment, such as the news field, as plain text.
func PlainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

func parseDate(y, m, d string) time.Time {
	yi, err1 := strconv.Atoi(y)
	mi, err2 := strconv.Atoi(m)
	di, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}
	}
	return time.Date(yi, time.Month(mi), di, 0, 0, 0, 0, time.UTC)
}

func isNotFound(err error) bool {
	var se *httpx.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
