package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
)

type tx struct {
	tx pgx.Tx
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return handlePostgresError("commit", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return handlePostgresError("rollback", err)
}

func (t *tx) InsertContent(ctx context.Context, c *kbcontent.Content) error {
	query := `
		INSERT INTO knowledge_content (
			content_id, uploader_id, title, description, content_type,
			file_name, file_path, file_size, mime_type, view_count, download_count,
			upload_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := t.tx.Exec(ctx, query,
		c.ID, c.UploaderID, c.Title, c.Description, string(c.ContentType),
		c.FileName, c.FilePath, c.FileSize, c.MimeType, c.ViewCount, c.DownloadCount,
		string(c.UploadStatus), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return handlePostgresError("insert content", err)
	}
	return nil
}

func (t *tx) IncrementViewCount(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE knowledge_content SET view_count = view_count + 1 WHERE content_id = $1`, id)
	if err != nil {
		return false, handlePostgresError("increment view count", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *tx) IncrementDownloadCount(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE knowledge_content SET download_count = download_count + 1 WHERE content_id = $1`, id)
	if err != nil {
		return false, handlePostgresError("increment download count", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *tx) GetView(ctx context.Context, id uuid.UUID) (*kbcontent.ContentView, error) {
	query := `SELECT ` + viewColumns + `, 0::float8 ` + viewFrom + ` WHERE c.content_id = $1`

	view, err := scanView(t.tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kbcontent.ErrContentNotFound
	}
	if err != nil {
		return nil, handlePostgresError("get view", err)
	}
	return view, nil
}

func (t *tx) LockOwnership(ctx context.Context, id uuid.UUID) (*kbcontent.Ownership, error) {
	var own kbcontent.Ownership
	var status string
	err := t.tx.QueryRow(ctx, `
		SELECT uploader_id, file_path, upload_status
		FROM knowledge_content
		WHERE content_id = $1
		FOR UPDATE`, id).Scan(&own.UploaderID, &own.FilePath, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kbcontent.ErrContentNotFound
	}
	if err != nil {
		return nil, handlePostgresError("lock content", err)
	}
	own.UploadStatus = kbcontent.UploadStatus(status)
	return &own, nil
}

func (t *tx) UpdateContent(ctx context.Context, id uuid.UUID, changes kbcontent.ContentChanges) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE knowledge_content SET
			title = COALESCE($2::text, title),
			description = CASE WHEN $3::boolean THEN $4::text ELSE description END,
			updated_at = $5
		WHERE content_id = $1`,
		id, changes.Title, changes.SetDescription, changes.Description, changes.UpdatedAt)
	if err != nil {
		return handlePostgresError("update content", err)
	}
	if tag.RowsAffected() == 0 {
		return kbcontent.ErrContentNotFound
	}
	return nil
}

func (t *tx) DeleteContent(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM knowledge_content WHERE content_id = $1`, id)
	if err != nil {
		return handlePostgresError("delete content", err)
	}
	if tag.RowsAffected() == 0 {
		return kbcontent.ErrContentNotFound
	}
	return nil
}

// UpsertTag inserts the tag or, when another transaction owns the name,
// re-selects the existing id. The unique constraint keeps one row per name.
func (t *tx) UpsertTag(ctx context.Context, name string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		INSERT INTO tags (tag_id, tag_name, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (tag_name) DO NOTHING
		RETURNING tag_id`, uuid.New(), name).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, handlePostgresError("insert tag", err)
	}

	err = t.tx.QueryRow(ctx, `SELECT tag_id FROM tags WHERE tag_name = $1`, name).Scan(&id)
	if err != nil {
		return uuid.Nil, false, handlePostgresError("select tag", err)
	}
	return id, false, nil
}

func (t *tx) DeleteTagAssociations(ctx context.Context, contentID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM content_tags WHERE content_id = $1`, contentID); err != nil {
		return handlePostgresError("delete tag associations", err)
	}
	return nil
}

func (t *tx) InsertTagAssociations(ctx context.Context, contentID uuid.UUID, tagIDs []uuid.UUID) error {
	if len(tagIDs) == 0 {
		return nil
	}
	ids := make([]string, len(tagIDs))
	for i, id := range tagIDs {
		ids[i] = id.String()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO content_tags (content_id, tag_id)
		SELECT $1::uuid, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`, contentID, ids)
	if err != nil {
		return handlePostgresError("insert tag associations", err)
	}
	return nil
}
