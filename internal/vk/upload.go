package vk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/mikequentel/comicpost/internal/httpx"
)

// Multipart field names expected by the two upload servers.
const (
	WallUploadField  = "photo"
	AlbumUploadField = "file1"
)

// UploadResult is what an upload server hands back for the save step.
type UploadResult struct {
	Server     int64  `json:"server"`
	Photo      string `json:"photo"`       // wall uploads
	PhotosList string `json:"photos_list"` // album uploads
	AlbumID    int64  `json:"aid"`
	Hash       string `json:"hash"`
}

// payload is the opaque photo blob, whichever upload flavour produced it.
func (u *UploadResult) payload() string {
	if u.Photo != "" {
		return u.Photo
	}
	return u.PhotosList
}

// Upload posts the file at path to the one-time uploadURL as multipart field.
func (c *Client) Upload(ctx context.Context, uploadURL, field, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	s := c.upload.New().Post(uploadURL).
		Body(&buf).
		Set("Content-Type", mw.FormDataContentType())

	var res UploadResult
	if err := httpx.Receive(ctx, s, &res); err != nil {
		return nil, fmt.Errorf("vk upload: %w", err)
	}
	if res.Hash == "" || res.payload() == "" || res.payload() == "[]" {
		return nil, fmt.Errorf("vk upload: %w: photo/hash", ErrMissingField)
	}
	c.log.WithFields(logrus.Fields{"server": res.Server, "file": filepath.Base(path)}).Info("photo uploaded")
	return &res, nil
}
