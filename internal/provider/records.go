package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/sakif/framez/internal/model"
)

var _ Records = (*Client)(nil)

// InsertPost inserts one row into "posts" and returns it as stored.
// The call is authenticated as the signed-in user, so row-level policies
// on the table see who is writing.
func (c *Client) InsertPost(ctx context.Context, post model.NewPost) (*model.Post, error) {
	var rows []model.Post
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/rest/v1/posts",
		header: http.Header{"Prefer": {"return=representation"}},
		json:   []model.NewPost{post},
		bearer: c.bearer(),
		out:    &rows,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("provider: insert returned no rows")
	}
	return &rows[0], nil
}

// ListPosts returns posts newest first, optionally limited to one author.
func (c *Client) ListPosts(ctx context.Context, q PostQuery) ([]model.Post, error) {
	query := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
	}
	if q.UserID != "" {
		query.Set("user_id", "eq."+q.UserID)
	}

	posts := []model.Post{}
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/rest/v1/posts",
		query:  query,
		bearer: c.bearer(),
		out:    &posts,
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}
