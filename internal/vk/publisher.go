package vk

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/mikequentel/comicpost/internal/model"
)

// WallPublisher runs the four-step wall flow: upload server, upload, saveWallPhoto, wall.post.
type WallPublisher struct {
	client  *Client
	groupID int64
}

func NewWallPublisher(c *Client, groupID int64) *WallPublisher {
	return &WallPublisher{client: c, groupID: groupID}
}

func (p *WallPublisher) Name() string { return "vk-wall" }

func (p *WallPublisher) Publish(ctx context.Context, post model.Post) (*model.PostResult, error) {
	uploadURL, err := p.client.WallUploadServer(ctx, p.groupID)
	if err != nil {
		return nil, err
	}
	up, err := p.client.Upload(ctx, uploadURL, WallUploadField, post.ImagePath)
	if err != nil {
		return nil, err
	}
	photo, err := p.client.SaveWallPhoto(ctx, p.groupID, up, post.Message)
	if err != nil {
		return nil, err
	}
	postID, err := p.client.WallPost(ctx, p.groupID, post.Message, photo)
	if err != nil {
		return nil, err
	}
	ref := postRef(p.groupID, postID)
	p.client.log.WithFields(logrus.Fields{"post": ref, "photo": photo.Attachment()}).Info("wall post published")
	return &model.PostResult{
		Target: p.Name(),
		Ref:    ref,
		URL:    "https://vk.com/" + ref,
	}, nil
}

// AlbumPublisher uploads into a community album: upload server, upload, photos.save.
type AlbumPublisher struct {
	client  *Client
	groupID int64
	albumID int64
}

func NewAlbumPublisher(c *Client, groupID, albumID int64) *AlbumPublisher {
	return &AlbumPublisher{client: c, groupID: groupID, albumID: albumID}
}

func (p *AlbumPublisher) Name() string { return "vk-album" }

func (p *AlbumPublisher) Publish(ctx context.Context, post model.Post) (*model.PostResult, error) {
	uploadURL, err := p.client.AlbumUploadServer(ctx, p.groupID, p.albumID)
	if err != nil {
		return nil, err
	}
	up, err := p.client.Upload(ctx, uploadURL, AlbumUploadField, post.ImagePath)
	if err != nil {
		return nil, err
	}
	photo, err := p.client.SaveAlbumPhoto(ctx, p.groupID, p.albumID, up, post.Message)
	if err != nil {
		return nil, err
	}
	ref := photo.Attachment()
	p.client.log.WithFields(logrus.Fields{"photo": ref, "album": p.albumID}).Info("album photo saved")
	return &model.PostResult{
		Target: p.Name(),
		Ref:    ref,
		URL:    fmt.Sprintf("https://vk.com/%s", ref),
	}, nil
}

func postRef(groupID, postID int64) string {
	return "wall-" + strconv.FormatInt(groupID, 10) + "_" + strconv.FormatInt(postID, 10)
}
