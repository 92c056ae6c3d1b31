package model

import (
	"fmt"
	"time"
)

// Comic is one xkcd strip as returned by the comic API.
type Comic struct {
	Num      int
	Title    string
	Caption  string // alt text, plain
	ImageURL string
	Date     time.Time
	News     string // site announcement, plain; usually empty
}

// Permalink is the public page of the strip.
func (c *Comic) Permalink() string {
	return fmt.Sprintf("https://xkcd.com/%d/", c.Num)
}

// ComicJSON mirrors info.0.json.
type ComicJSON struct {
	Num       int    `json:"num"`
	Img       string `json:"img"`
	Alt       string `json:"alt"`
	Title     string `json:"title"`
	SafeTitle string `json:"safe_title"`
	Year      string `json:"year"`
	Month     string `json:"month"`
	Day       string `json:"day"`
	News      string `json:"news"` // HTML
}

// Photo is the canonical VK photo reference.
type Photo struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"owner_id"`
	AlbumID int64 `json:"album_id,omitempty"`
}

// Attachment formats the photo for wall.post attachments.
func (p Photo) Attachment() string {
	return fmt.Sprintf("photo%d_%d", p.OwnerID, p.ID)
}

// Post is what a publisher receives from the pipeline.
type Post struct {
	Comic     *Comic
	ImagePath string
	Message   string
}

// PostResult identifies a published post.
type PostResult struct {
	Target string // "vk-wall", "vk-album", "x"
	Ref    string // eg: "wall-166256394_42", "photo-166256394_457239017", tweet id
	URL    string
}

// Group is a VK community as listed by groups.get.
type Group struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

// --- v2 create tweet ---

type TweetReq struct {
	Text  string      `json:"text"`
	Media *TweetMedia `json:"media,omitempty"`
}
type TweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}
type TweetResp struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// --- v1.1 media/upload (simple upload) ---

type MediaUploadResp struct {
	MediaID       int64  `json:"media_id"`
	MediaIDString string `json:"media_id_string"`
}
