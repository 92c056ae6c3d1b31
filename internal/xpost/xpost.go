// Package xpost mirrors a comic post to X: v1.1 simple media upload, then a v2 tweet.
package xpost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"github.com/sirupsen/logrus"

	"github.com/mikequentel/comicpost/internal/model"
)

const (
	DefaultUploadURL = "https://upload.twitter.com/1.1/media/upload.json"
	DefaultTweetURL  = "https://api.twitter.com/2/tweets"

	maxLen    = 280
	maxImages = 4
)

// Credentials are the four OAuth1 user-context values.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// Complete reports whether every value is set.
func (c Credentials) Complete() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.AccessToken != "" && c.AccessSecret != ""
}

// NewOAuth1Client returns an HTTP client that signs requests with creds, sending
// them through base.
func NewOAuth1Client(base *http.Client, creds Credentials) *http.Client {
	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth1.HTTPClient, base)
	}
	c := config.Client(ctx, token)
	if base != nil {
		c.Timeout = base.Timeout
	}
	return c
}

type Publisher struct {
	client    *http.Client
	uploadURL string
	tweetURL  string
	log       logrus.FieldLogger
}

type Option func(*Publisher)

// WithEndpoints overrides the upload and tweet URLs.
func WithEndpoints(uploadURL, tweetURL string) Option {
	return func(p *Publisher) {
		if uploadURL != "" {
			p.uploadURL = uploadURL
		}
		if tweetURL != "" {
			p.tweetURL = tweetURL
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPublisher expects an already signing client, see NewOAuth1Client.
func NewPublisher(signed *http.Client, opts ...Option) *Publisher {
	p := &Publisher{
		client:    signed,
		uploadURL: DefaultUploadURL,
		tweetURL:  DefaultTweetURL,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Name() string { return "x" }

func (p *Publisher) Publish(ctx context.Context, post model.Post) (*model.PostResult, error) {
	ids, err := p.uploadImages(ctx, []string{post.ImagePath})
	if err != nil {
		return nil, err
	}
	status := post.Message
	if post.Comic != nil {
		status = FormatStatus(post.Comic)
	}
	id, err := p.createTweet(ctx, status, ids)
	if err != nil {
		return nil, err
	}
	p.log.WithField("tweet", id).Info("mirrored to X")
	return &model.PostResult{
		Target: p.Name(),
		Ref:    id,
		URL:    "https://x.com/i/web/status/" + id,
	}, nil
}

// FormatStatus renders "xkcd #N: Title — caption https://xkcd.com/N/" within 280 runes.
// The header and link always survive; the caption is cut with an ellipsis.
func FormatStatus(c *model.Comic) string {
	header := fmt.Sprintf("xkcd #%d: %s — ", c.Num, strings.TrimSpace(c.Title))
	body := strings.TrimSpace(c.Caption)
	tail := " " + c.Permalink()

	text := header + body + tail
	if runeLen(text) <= maxLen {
		return text
	}

	const ellipsis = "…"
	avail := maxLen - runeLen(header) - runeLen(tail) - runeLen(ellipsis)
	if avail < 0 {
		// absurdly long title; keep the link and cut the header instead
		return truncateRunes(header, maxLen-runeLen(tail)-runeLen(ellipsis)) + ellipsis + tail
	}
	return header + strings.TrimRight(truncateRunes(body, avail), " ") + ellipsis + tail
}

func runeLen(s string) int { return len([]rune(s)) }

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// uploadImages uploads at most four images and returns their media ids.
func (p *Publisher) uploadImages(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if len(paths) > maxImages {
		paths = paths[:maxImages]
	}
	ids := make([]string, 0, len(paths))
	for _, path := range paths {
		id, err := p.uploadMediaSimple(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Publisher) uploadMediaSimple(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.uploadURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%s", diagnoseHTTPError(resp, body, "POST /1.1/media/upload.json"))
	}

	var out model.MediaUploadResp
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode media upload: %w", err)
	}
	if out.MediaIDString != "" {
		return out.MediaIDString, nil
	}
	if out.MediaID != 0 {
		return strconv.FormatInt(out.MediaID, 10), nil
	}
	return "", fmt.Errorf("media upload: missing media_id in response")
}

func (p *Publisher) createTweet(ctx context.Context, text string, mediaIDs []string) (string, error) {
	payload := model.TweetReq{Text: text}
	if len(mediaIDs) > 0 {
		payload.Media = &model.TweetMedia{MediaIDs: mediaIDs}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tweetURL, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%s", diagnoseHTTPError(resp, body, "POST /2/tweets"))
	}

	var out model.TweetResp
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode tweet response: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("create tweet: missing id in response")
	}
	return out.Data.ID, nil
}

// v2 problem document
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

// diagnoseHTTPError explains a failed X call from whichever error shape came back.
func diagnoseHTTPError(resp *http.Response, body []byte, op string) string {
	prefix := fmt.Sprintf("%s: HTTP %d", op, resp.StatusCode)
	if lvl := resp.Header.Get("X-Access-Level"); lvl != "" {
		prefix += " (access level " + lvl + ")"
	}

	var pr problem
	if json.Unmarshal(body, &pr) == nil && (pr.Title != "" || pr.Detail != "") {
		return fmt.Sprintf("%s: %s: %s", prefix, pr.Title, pr.Detail)
	}

	var v1 twitter.APIError
	if json.Unmarshal(body, &v1) == nil && len(v1.Errors) > 0 {
		parts := make([]string, 0, len(v1.Errors))
		for _, e := range v1.Errors {
			parts = append(parts, fmt.Sprintf("code %d: %s", e.Code, e.Message))
		}
		return prefix + ": " + strings.Join(parts, "; ")
	}

	raw := strings.TrimSpace(string(body))
	if raw == "" {
		raw = http.StatusText(resp.StatusCode)
	}
	return prefix + ": " + truncateRunes(raw, 500)
}
