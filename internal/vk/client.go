// Package vk talks to the VK method API for photo uploads and wall posts.
package vk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dghubble/sling"
	"github.com/google/go-querystring/query"
	"github.com/sirupsen/logrus"

	"github.com/mikequentel/comicpost/internal/httpx"
	"github.com/mikequentel/comicpost/internal/model"
)

const (
	DefaultBaseURL    = "https://api.vk.com/method/"
	DefaultAPIVersion = "5.103"
)

// ErrMissingField means a success envelope lacked a field the next step needs.
var ErrMissingField = errors.New("missing field in VK response")

// APIError is the body of a VK {"error": {...}} envelope.
type APIError struct {
	Method  string `json:"-"`
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk %s: error %d: %s", e.Method, e.Code, e.Message)
}

type envelope[T any] struct {
	Response *T        `json:"response"`
	Error    *APIError `json:"error"`
}

// auth is appended to every method call.
type auth struct {
	AccessToken string `url:"access_token"`
	Version     string `url:"v"`
}

type Client struct {
	sling  *sling.Sling
	upload *sling.Sling
	auth   auth
	log    logrus.FieldLogger
}

type Option func(*Client)

// WithBaseURL points method calls somewhere other than api.vk.com.
// A missing trailing slash is added so methods resolve under base.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.sling = c.sling.Base(strings.TrimRight(base, "/") + "/")
		}
	}
}

func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if v != "" {
			c.auth.Version = v
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

func NewClient(httpClient *http.Client, accessToken string, opts ...Option) *Client {
	c := &Client{
		sling:  httpx.NewSling(httpClient, DefaultBaseURL),
		upload: httpx.NewSling(httpClient, ""),
		auth:   auth{AccessToken: accessToken, Version: DefaultAPIVersion},
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call invokes method with params and unwraps the response envelope.
func call[T any](ctx context.Context, c *Client, httpMethod, method string, params any) (*T, error) {
	s := c.sling.New()
	switch httpMethod {
	case http.MethodGet:
		s = s.Get(method).QueryStruct(c.auth)
		if params != nil {
			s = s.QueryStruct(params)
		}
	default:
		// token travels in the form body so it never shows up in a URL
		form, err := encodeForm(c.auth, params)
		if err != nil {
			return nil, fmt.Errorf("vk %s: encode params: %w", method, err)
		}
		s = s.Post(method).
			Body(strings.NewReader(form.Encode())).
			Set("Content-Type", "application/x-www-form-urlencoded")
	}

	var env envelope[T]
	if err := httpx.Receive(ctx, s, &env); err != nil {
		return nil, fmt.Errorf("vk %s: %w", method, err)
	}
	if env.Error != nil {
		env.Error.Method = method
		return nil, env.Error
	}
	if env.Response == nil {
		return nil, fmt.Errorf("vk %s: %w: response", method, ErrMissingField)
	}
	c.log.WithField("method", method).Debug("vk call ok")
	return env.Response, nil
}

// uploadServer is the response of photos.getWallUploadServer / getUploadServer.
type uploadServer struct {
	UploadURL string `json:"upload_url"`
	AlbumID   int64  `json:"album_id"`
	UserID    int64  `json:"user_id"`
}

type wallUploadParams struct {
	GroupID int64 `url:"group_id"`
}

type albumUploadParams struct {
	GroupID int64 `url:"group_id,omitempty"`
	AlbumID int64 `url:"album_id"`
}

// WallUploadServer returns a one-time URL for uploading a wall photo of groupID.
func (c *Client) WallUploadServer(ctx context.Context, groupID int64) (string, error) {
	const method = "photos.getWallUploadServer"
	res, err := call[uploadServer](ctx, c, http.MethodGet, method, wallUploadParams{GroupID: groupID})
	if err != nil {
		return "", err
	}
	if res.UploadURL == "" {
		return "", fmt.Errorf("vk %s: %w: upload_url", method, ErrMissingField)
	}
	return res.UploadURL, nil
}

// AlbumUploadServer returns a one-time URL for uploading into albumID.
func (c *Client) AlbumUploadServer(ctx context.Context, groupID, albumID int64) (string, error) {
	const method = "photos.getUploadServer"
	res, err := call[uploadServer](ctx, c, http.MethodGet, method, albumUploadParams{GroupID: groupID, AlbumID: albumID})
	if err != nil {
		return "", err
	}
	if res.UploadURL == "" {
		return "", fmt.Errorf("vk %s: %w: upload_url", method, ErrMissingField)
	}
	return res.UploadURL, nil
}

type saveWallPhotoParams struct {
	GroupID int64  `url:"group_id"`
	Photo   string `url:"photo"`
	Server  int64  `url:"server"`
	Hash    string `url:"hash"`
	Caption string `url:"caption,omitempty"`
}

type saveAlbumPhotoParams struct {
	GroupID    int64  `url:"group_id,omitempty"`
	AlbumID    int64  `url:"album_id"`
	PhotosList string `url:"photos_list"`
	Server     int64  `url:"server"`
	Hash       string `url:"hash"`
	Caption    string `url:"caption,omitempty"`
}

// SaveWallPhoto registers an uploaded wall photo and returns its canonical reference.
func (c *Client) SaveWallPhoto(ctx context.Context, groupID int64, up *UploadResult, caption string) (model.Photo, error) {
	const method = "photos.saveWallPhoto"
	photos, err := call[[]model.Photo](ctx, c, http.MethodPost, method, saveWallPhotoParams{
		GroupID: groupID,
		Photo:   up.Photo,
		Server:  up.Server,
		Hash:    up.Hash,
		Caption: caption,
	})
	if err != nil {
		return model.Photo{}, err
	}
	return firstPhoto(method, *photos)
}

// SaveAlbumPhoto registers an uploaded album photo and returns its canonical reference.
func (c *Client) SaveAlbumPhoto(ctx context.Context, groupID, albumID int64, up *UploadResult, caption string) (model.Photo, error) {
	const method = "photos.save"
	photos, err := call[[]model.Photo](ctx, c, http.MethodPost, method, saveAlbumPhotoParams{
		GroupID:    groupID,
		AlbumID:    albumID,
		PhotosList: up.PhotosList,
		Server:     up.Server,
		Hash:       up.Hash,
		Caption:    caption,
	})
	if err != nil {
		return model.Photo{}, err
	}
	return firstPhoto(method, *photos)
}

func firstPhoto(method string, photos []model.Photo) (model.Photo, error) {
	if len(photos) == 0 || photos[0].ID == 0 {
		return model.Photo{}, fmt.Errorf("vk %s: %w: photo id", method, ErrMissingField)
	}
	return photos[0], nil
}

type wallPostParams struct {
	OwnerID     int64  `url:"owner_id"`
	FromGroup   int    `url:"from_group"`
	Message     string `url:"message"`
	Attachments string `url:"attachments"`
}

type wallPostResult struct {
	PostID int64 `json:"post_id"`
}

// WallPost publishes message with photo on the wall of groupID, as the group.
func (c *Client) WallPost(ctx context.Context, groupID int64, message string, photo model.Photo) (int64, error) {
	const method = "wall.post"
	res, err := call[wallPostResult](ctx, c, http.MethodPost, method, wallPostParams{
		OwnerID:     -groupID,
		FromGroup:   1,
		Message:     message,
		Attachments: photo.Attachment(),
	})
	if err != nil {
		return 0, err
	}
	if res.PostID == 0 {
		return 0, fmt.Errorf("vk %s: %w: post_id", method, ErrMissingField)
	}
	return res.PostID, nil
}

type groupsParams struct {
	Extended int `url:"extended"`
}

type groupsResult struct {
	Count int           `json:"count"`
	Items []model.Group `json:"items"`
}

// Groups lists the communities the token's user belongs to.
func (c *Client) Groups(ctx context.Context) ([]model.Group, error) {
	res, err := call[groupsResult](ctx, c, http.MethodGet, "groups.get", groupsParams{Extended: 1})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// encodeForm merges the url-tagged structs into one form.
func encodeForm(parts ...any) (url.Values, error) {
	form := url.Values{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		v, err := query.Values(p)
		if err != nil {
			return nil, err
		}
		for k, vs := range v {
			form[k] = vs
		}
	}
	return form, nil
}
