package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var _ Storage = (*Client)(nil)

// Upload stores body at bucket/objectPath. bearer must be the uploader's
// access token: bucket policies decide from it who may write where.
// Existing objects are not overwritten.
func (c *Client) Upload(ctx context.Context, bucket, objectPath, contentType string, body io.Reader, bearer string) error {
	if bucket == "" || objectPath == "" {
		return errors.New("provider: bucket and object path are required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/storage/v1/object/" + escapePath(bucket) + "/" + escapePath(objectPath),
		header:      http.Header{"X-Upsert": {"false"}, "Cache-Control": {"max-age=3600"}},
		body:        body,
		contentType: contentType,
		bearer:      bearer,
	})
}

// PublicURL returns the URL a public bucket serves objectPath from.
// It is computed locally; nothing checks that the object exists.
func (c *Client) PublicURL(bucket, objectPath string) string {
	return c.endpoint("/storage/v1/object/public/" + escapePath(bucket) + "/" + escapePath(objectPath))
}

// Remove deletes objects from bucket.
func (c *Client) Remove(ctx context.Context, bucket string, objectPaths []string, bearer string) error {
	if bucket == "" || len(objectPaths) == 0 {
		return errors.New("provider: bucket and at least one object path are required")
	}

	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/storage/v1/object/" + escapePath(bucket),
		json:   map[string][]string{"prefixes": objectPaths},
		bearer: bearer,
	})
}

// escapePath escapes each segment of p and keeps the slashes.
func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
