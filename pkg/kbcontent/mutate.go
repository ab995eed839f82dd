package kbcontent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

func (s *service) UpdateContent(ctx context.Context, principal Principal, id uuid.UUID, req UpdateContentRequest) (*ContentView, error) {
	changes, tags, err := s.validateUpdate(req)
	if err != nil {
		return nil, err
	}

	tx, err := s.repository.Begin(ctx)
	if err != nil {
		return nil, contentErr(id, "update", err)
	}
	defer rollback(ctx, tx, "update")

	own, err := tx.LockOwnership(ctx, id)
	if err != nil {
		return nil, contentErr(id, "update", err)
	}
	if err := authorize(principal, own.UploaderID, "update"); err != nil {
		return nil, err
	}

	if err := tx.UpdateContent(ctx, id, changes); err != nil {
		return nil, contentErr(id, "update", err)
	}

	var resolved map[string]uuid.UUID
	if tags != nil {
		if err := tx.DeleteTagAssociations(ctx, id); err != nil {
			return nil, contentErr(id, "update", err)
		}
		resolved, err = s.tags.Resolve(ctx, tx, tags)
		if err != nil {
			return nil, contentErr(id, "update", err)
		}
		if len(resolved) > 0 {
			if err := tx.InsertTagAssociations(ctx, id, tagIDs(resolved)); err != nil {
				return nil, contentErr(id, "update", err)
			}
		}
	}

	view, err := tx.GetView(ctx, id)
	if err != nil {
		return nil, contentErr(id, "update", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, contentErr(id, "update", err)
	}
	s.tags.Remember(resolved)

	if err := s.eventSink.ContentUpdated(ctx, view); err != nil {
		slog.Warn("Event sink failed", "event", "content_updated", "content_id", id, "err", err)
	}
	return view, nil
}

// validateUpdate returns the scalar changes and, when tags are being
// replaced, the canonical tag set (non-nil, possibly empty).
func (s *service) validateUpdate(req UpdateContentRequest) (ContentChanges, []string, error) {
	if req.Title == nil && req.Description == nil && req.Tags == nil {
		return ContentChanges{}, nil, &ValidationError{Message: "at least one of title, description or tags is required"}
	}

	changes := ContentChanges{UpdatedAt: s.timestamp()}
	if req.Title != nil {
		title, err := normalizeTitle(*req.Title)
		if err != nil {
			return ContentChanges{}, nil, err
		}
		changes.Title = &title
	}
	if req.Description != nil {
		// An empty description clears the field.
		changes.SetDescription = true
		changes.Description = normalizeDescription(req.Description)
	}

	var tags []string
	if req.Tags != nil {
		tags = CanonicalTags(*req.Tags)
	}
	return changes, tags, nil
}

func (s *service) DeleteContent(ctx context.Context, principal Principal, id uuid.UUID) error {
	tx, err := s.repository.Begin(ctx)
	if err != nil {
		return contentErr(id, "delete", err)
	}
	defer rollback(ctx, tx, "delete")

	own, err := tx.LockOwnership(ctx, id)
	if err != nil {
		return contentErr(id, "delete", err)
	}
	if err := authorize(principal, own.UploaderID, "delete"); err != nil {
		return err
	}

	if own.FilePath != "" {
		if err := s.blobStore.Delete(ctx, own.FilePath); err != nil && !errors.Is(err, ErrObjectNotFound) {
			slog.Error("Failed to delete object, keeping metadata",
				"content_id", id, "key", own.FilePath, "backend", s.blobStore.Name(), "err", err)
			return storageErr(s.blobStore.Name(), own.FilePath, "delete", err)
		}
	}

	if err := tx.DeleteContent(ctx, id); err != nil {
		return contentErr(id, "delete", err)
	}
	if err := tx.Commit(ctx); err != nil {
		slog.Error("Object deleted but metadata commit failed",
			"content_id", id, "key", own.FilePath, "err", err)
		return contentErr(id, "delete", err)
	}

	if err := s.eventSink.ContentDeleted(ctx, id); err != nil {
		slog.Warn("Event sink failed", "event", "content_deleted", "content_id", id, "err", err)
	}
	return nil
}
