package kbcontent

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tendant/knowledge-content/pkg/kbcontent/objectkey"
)

func (s *service) CanUpload(principal Principal) error {
	if !s.uploadRoles[principal.Role] {
		return &AccessError{PrincipalID: principal.ID, Op: "upload", Err: ErrForbidden}
	}
	return nil
}

func (s *service) Upload(ctx context.Context, principal Principal, req UploadRequest) (*Content, error) {
	content, err := s.validateUpload(principal, req)
	if err != nil {
		uploadsTotal.WithLabelValues(outcomeRejected).Inc()
		return nil, err
	}

	key := s.keyGen.GenerateKey(content.ID, &objectkey.KeyMetadata{
		FileName:   req.FileName,
		MimeType:   req.MimeType,
		UploaderID: principal.ID,
	})

	put, err := s.blobStore.Put(ctx, key, req.File, PutParams{
		FileName: req.FileName,
		MimeType: req.MimeType,
		Size:     req.FileSize,
	})
	if err != nil {
		uploadsTotal.WithLabelValues(outcomeFailed).Inc()
		return nil, storageErr(s.blobStore.Name(), key, "put", err)
	}
	content.FilePath = put.Key

	tagIDs, err := s.persistUpload(ctx, content, ParseTagList(req.Tags))
	if err != nil {
		s.compensateUpload(ctx, content.ID, put.Key, err)
		uploadsTotal.WithLabelValues(outcomeFailed).Inc()
		return nil, contentErr(content.ID, "upload", err)
	}
	s.tags.Remember(tagIDs)
	uploadsTotal.WithLabelValues(outcomeSuccess).Inc()

	if err := s.eventSink.ContentCreated(ctx, content); err != nil {
		slog.Warn("Event sink failed", "event", "content_created", "content_id", content.ID, "err", err)
	}
	return content, nil
}

// persistUpload writes the row and its tag associations in one transaction.
func (s *service) persistUpload(ctx context.Context, content *Content, tags []string) (map[string]uuid.UUID, error) {
	tx, err := s.repository.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(ctx, tx, "upload")

	if err := tx.InsertContent(ctx, content); err != nil {
		return nil, err
	}

	ids, err := s.tags.Resolve(ctx, tx, tags)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if err := tx.InsertTagAssociations(ctx, content.ID, tagIDs(ids)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// compensateUpload removes an object whose metadata never committed.
// Failures are logged and counted, never returned.
func (s *service) compensateUpload(ctx context.Context, id uuid.UUID, key string, cause error) {
	if err := s.blobStore.Delete(context.WithoutCancel(ctx), key); err != nil {
		uploadCompensationsTotal.WithLabelValues(outcomeFailed).Inc()
		slog.Error("Failed to delete orphaned object",
			"content_id", id,
			"key", key,
			"backend", s.blobStore.Name(),
			"cause", cause,
			"err", err)
		return
	}
	uploadCompensationsTotal.WithLabelValues(outcomeSuccess).Inc()
	slog.Warn("Deleted object after failed upload", "content_id", id, "key", key, "cause", cause)
}

// validateUpload checks every precondition and builds the row to insert.
// It has no side effects.
func (s *service) validateUpload(principal Principal, req UploadRequest) (*Content, error) {
	if err := s.CanUpload(principal); err != nil {
		return nil, err
	}
	if req.File == nil {
		return nil, &ValidationError{Field: "file", Message: "file is required"}
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, &ValidationError{Field: "file", Message: "file name is required"}
	}
	if req.FileSize < 0 {
		return nil, invalid("file", "invalid file size %d", req.FileSize)
	}
	if s.maxFileSize > 0 && req.FileSize > s.maxFileSize {
		return nil, &PayloadTooLargeError{Size: req.FileSize, Limit: s.maxFileSize}
	}

	title, err := normalizeTitle(req.Title)
	if err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = ContentTypeOther
	}
	if !contentType.IsValid() {
		return nil, invalid("content_type", "unknown content type %q", contentType)
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	now := s.timestamp()
	return &Content{
		ID:           uuid.New(),
		UploaderID:   principal.ID,
		Title:        title,
		Description:  normalizeDescription(req.Description),
		ContentType:  contentType,
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		MimeType:     mimeType,
		UploadStatus: UploadStatusCompleted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", &ValidationError{Field: "title", Message: "title is required"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", invalid("title", "title must be at most %d characters", MaxTitleLength)
	}
	return title, nil
}

func normalizeDescription(d *string) *string {
	if d == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*d)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
