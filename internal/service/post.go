package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/framez/internal/apperror"
	"github.com/sakif/framez/internal/model"
	"github.com/sakif/framez/internal/provider"
	"github.com/sakif/framez/internal/router"
	"github.com/sakif/framez/internal/validate"
)

// DefaultBucket is the storage bucket for post images.
const DefaultBucket = "post-images"

// PostBackend is the slice of the provider that posts need.
type PostBackend interface {
	provider.Storage
	provider.Records
}

// SessionSource reports the current session; session.Store implements it.
type SessionSource interface {
	Current() *model.Session
}

// PostForm is the create-post screen's input. ImagePath stands in for the
// device image picker.
type PostForm struct {
	Title       string
	Description string
	ImagePath   string
}

// PostService creates and lists posts.
type PostService struct {
	backend  PostBackend
	sessions SessionSource
	bucket   string
	logger   *slog.Logger

	Uploading Indicator
}

func NewPostService(backend PostBackend, sessions SessionSource, bucket string, logger *slog.Logger) *PostService {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &PostService{
		backend:  backend,
		sessions: sessions,
		bucket:   bucket,
		logger:   logger,
	}
}

// CreatePost uploads the image, then inserts the post row pointing at its
// public URL.
//
// If the insert fails after the upload succeeded, the uploaded object is
// removed again (best effort) and the record store's diagnostics are shown.
func (s *PostService) CreatePost(ctx context.Context, form PostForm) Outcome {
	if !s.Uploading.begin() {
		return Outcome{Busy: true}
	}
	defer s.Uploading.end()

	err := validate.Check(
		validate.Required("title", form.Title),
		validate.Required("description", form.Description),
		validate.Required("image", form.ImagePath),
	)
	if err != nil {
		var f *validate.Failure
		if errors.As(err, &f) && f.Field == "image" {
			return Outcome{Notice: errorNotice("Error", "Please select an image")}
		}
		return Outcome{Notice: errorNotice("Error", "Please fill in title and description")}
	}

	session := s.sessions.Current()
	if session == nil {
		return Outcome{Notice: errorNotice("Error", "You must be logged in to create a post")}
	}
	userID := session.User.ID

	image, err := os.Open(form.ImagePath)
	if err != nil {
		s.logger.Warn("opening image failed", slog.String("path", form.ImagePath), slog.String("error", err.Error()))
		return Outcome{Notice: errorNotice("Error", "Failed to select image")}
	}
	defer image.Close()

	ext := imageExt(form.ImagePath)
	objectPath := ObjectPath(userID, xid.New().String(), ext)

	err = s.backend.Upload(ctx, s.bucket, objectPath, "image/"+ext, image, session.AccessToken)
	if err != nil {
		s.logger.Error("uploading post image failed",
			slog.String("object", objectPath),
			slog.String("error", err.Error()),
		)
		return Outcome{Notice: errorNotice("Error", "Failed to upload post. Please try again.")}
	}

	publicURL := s.backend.PublicURL(s.bucket, objectPath)

	post, err := s.backend.InsertPost(ctx, model.NewPost{
		UserID:      userID,
		Title:       strings.TrimSpace(form.Title),
		Description: strings.TrimSpace(form.Description),
		ImageURL:    publicURL,
	})
	if err != nil {
		s.logger.Error("inserting post failed",
			slog.String("object", objectPath),
			slog.String("error", err.Error()),
		)
		s.removeOrphan(ctx, objectPath, session.AccessToken)
		return Outcome{Notice: insertFailureNotice(err)}
	}

	s.logger.Info("post created", slog.String("postID", post.ID), slog.String("userID", userID))
	return Outcome{
		Notice: successNotice("Your post has been created successfully"),
		Tab:    router.Feed,
	}
}

// removeOrphan deletes an uploaded object whose post row was never written.
func (s *PostService) removeOrphan(ctx context.Context, objectPath, bearer string) {
	if err := s.backend.Remove(ctx, s.bucket, []string{objectPath}, bearer); err != nil {
		s.logger.Warn("removing orphaned upload failed",
			slog.String("object", objectPath),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("removed orphaned upload", slog.String("object", objectPath))
}

// Feed returns every post, newest first.
func (s *PostService) Feed(ctx context.Context) ([]model.Post, error) {
	posts, err := s.backend.ListPosts(ctx, provider.PostQuery{})
	if err != nil {
		s.logger.Error("fetching feed failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/post: fetching feed: %w", err)
	}
	return posts, nil
}

// UserPosts returns one user's posts, newest first.
func (s *PostService) UserPosts(ctx context.Context, userID string) ([]model.Post, error) {
	if userID == "" {
		return nil, apperror.NotAuthenticated("You must be logged in to view your profile")
	}
	posts, err := s.backend.ListPosts(ctx, provider.PostQuery{UserID: userID})
	if err != nil {
		s.logger.Error("fetching user posts failed", slog.String("userID", userID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/post: fetching posts for %s: %w", userID, err)
	}
	return posts, nil
}

// ObjectPath names an uploaded image: posts/<uid>/<id>_<uid>.<ext>.
// id is an xid, so a user's objects sort by upload time.
func ObjectPath(userID, id, ext string) string {
	return fmt.Sprintf("posts/%s/%s_%s.%s", userID, id, userID, ext)
}

// imageExt is the lower-cased file extension, "jpg" when there is none.
func imageExt(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return "jpg"
	}
	return ext
}

// insertFailureNotice surfaces the record store's message, code and details.
func insertFailureNotice(err error) *Notice {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrProvider) {
		return errorNotice("Error", "Failed to upload post. Please try again.")
	}
	return errorNotice("Database Error", fmt.Sprintf(
		"Failed to save post: %s\nCode: %s\nDetails: %s",
		appErr.Message, appErr.Code, appErr.Details,
	))
}
