package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
)

// tx runs with the repository semaphore held. Every mutation pushes its
// inverse onto undo.
type tx struct {
	repo *Repository
	undo []func()
	done bool
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return kbcontent.ErrTxDone
	}
	return ctx.Err()
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return kbcontent.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		t.rollback()
		return err
	}
	t.done = true
	t.undo = nil
	t.repo.unlock()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.rollback()
	return nil
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.done = true
	t.repo.unlock()
}

func (t *tx) InsertContent(ctx context.Context, content *kbcontent.Content) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	r := t.repo
	if _, ok := r.contents[content.ID]; ok {
		return fmt.Errorf("content %s: %w", content.ID, kbcontent.ErrConflict)
	}
	if _, ok := r.paths[content.FilePath]; ok {
		return fmt.Errorf("file path %s: %w", content.FilePath, kbcontent.ErrConflict)
	}

	r.contents[content.ID] = copyContent(content)
	r.paths[content.FilePath] = content.ID
	t.undo = append(t.undo, func() {
		delete(r.contents, content.ID)
		delete(r.paths, content.FilePath)
	})
	return nil
}

func (t *tx) IncrementViewCount(ctx context.Context, id uuid.UUID) (bool, error) {
	return t.increment(ctx, id, func(c *kbcontent.Content) *int64 { return &c.ViewCount })
}

func (t *tx) IncrementDownloadCount(ctx context.Context, id uuid.UUID) (bool, error) {
	return t.increment(ctx, id, func(c *kbcontent.Content) *int64 { return &c.DownloadCount })
}

func (t *tx) increment(ctx context.Context, id uuid.UUID, field func(*kbcontent.Content) *int64) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	c, ok := t.repo.contents[id]
	if !ok {
		return false, nil
	}
	counter := field(c)
	*counter++
	t.undo = append(t.undo, func() { *counter-- })
	return true, nil
}

func (t *tx) GetView(ctx context.Context, id uuid.UUID) (*kbcontent.ContentView, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	c, ok := t.repo.contents[id]
	if !ok {
		return nil, kbcontent.ErrContentNotFound
	}
	return t.repo.view(c), nil
}

func (t *tx) LockOwnership(ctx context.Context, id uuid.UUID) (*kbcontent.Ownership, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	c, ok := t.repo.contents[id]
	if !ok {
		return nil, kbcontent.ErrContentNotFound
	}
	return &kbcontent.Ownership{
		UploaderID:   c.UploaderID,
		FilePath:     c.FilePath,
		UploadStatus: c.UploadStatus,
	}, nil
}

func (t *tx) UpdateContent(ctx context.Context, id uuid.UUID, changes kbcontent.ContentChanges) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	c, ok := t.repo.contents[id]
	if !ok {
		return kbcontent.ErrContentNotFound
	}

	prev := copyContent(c)
	t.undo = append(t.undo, func() { *c = *prev })

	if changes.Title != nil {
		c.Title = *changes.Title
	}
	if changes.SetDescription {
		c.Description = copyString(changes.Description)
	}
	c.UpdatedAt = changes.UpdatedAt
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (t *tx) DeleteContent(ctx context.Context, id uuid.UUID) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	r := t.repo
	c, ok := r.contents[id]
	if !ok {
		return kbcontent.ErrContentNotFound
	}
	assoc := r.contentTags[id]

	delete(r.contents, id)
	delete(r.paths, c.FilePath)
	delete(r.contentTags, id)
	t.undo = append(t.undo, func() {
		r.contents[id] = c
		r.paths[c.FilePath] = id
		if assoc != nil {
			r.contentTags[id] = assoc
		}
	})
	return nil
}

func (t *tx) UpsertTag(ctx context.Context, name string) (uuid.UUID, bool, error) {
	if err := t.check(ctx); err != nil {
		return uuid.Nil, false, err
	}
	r := t.repo
	if id, ok := r.tagsByName[name]; ok {
		return id, false, nil
	}

	tag := &kbcontent.Tag{ID: uuid.New(), Name: name, CreatedAt: time.Now().UTC()}
	r.tags[tag.ID] = tag
	r.tagsByName[name] = tag.ID
	t.undo = append(t.undo, func() {
		delete(r.tags, tag.ID)
		delete(r.tagsByName, name)
	})
	return tag.ID, true, nil
}

func (t *tx) DeleteTagAssociations(ctx context.Context, contentID uuid.UUID) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	r := t.repo
	assoc, ok := r.contentTags[contentID]
	if !ok {
		return nil
	}
	delete(r.contentTags, contentID)
	t.undo = append(t.undo, func() { r.contentTags[contentID] = assoc })
	return nil
}

func (t *tx) InsertTagAssociations(ctx context.Context, contentID uuid.UUID, tagIDs []uuid.UUID) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	r := t.repo
	if _, ok := r.contents[contentID]; !ok {
		return kbcontent.ErrContentNotFound
	}

	set, ok := r.contentTags[contentID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		r.contentTags[contentID] = set
		t.undo = append(t.undo, func() { delete(r.contentTags, contentID) })
	}
	for _, tagID := range tagIDs {
		if _, ok := r.tags[tagID]; !ok {
			return fmt.Errorf("tag %s does not exist", tagID)
		}
		if _, ok := set[tagID]; ok {
			continue
		}
		set[tagID] = struct{}{}
		id := tagID
		t.undo = append(t.undo, func() { delete(set, id) })
	}
	return nil
}
