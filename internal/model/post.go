package model

import "time"

// Post is a row of the record store's "posts" table.
//
// This client never defines the table; the struct only mirrors the JSON the
// record store returns. ImageURL is a pointer because text-only rows carry null.
type Post struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	ImageURL      *string   `json:"image_url"`
	LikesCount    int       `json:"likes_count"`
	CommentsCount int       `json:"comments_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewPost is the insert payload for a post. Counters and timestamps are
// filled in by the record store.
type NewPost struct {
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}
