package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB is a DBTX that can also start transactions, such as *pgxpool.Pool
type DB interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
}

// Repository implements kbcontent.Repository using PostgreSQL
type Repository struct {
	db DB
}

// New creates a new PostgreSQL repository
func New(db DB) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var _ kbcontent.Repository = (*Repository)(nil)

// handlePostgresError maps driver errors onto the kbcontent error taxonomy
func handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrTxClosed) {
		return kbcontent.ErrTxDone
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %s: %w", operation, pgErr.ConstraintName, kbcontent.ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record not found (%s): %w", operation, pgErr.ConstraintName, err)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required: %w", operation, err)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *Repository) Begin(ctx context.Context) (kbcontent.Tx, error) {
	pgTx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, handlePostgresError("begin", err)
	}
	return &tx{tx: pgTx}, nil
}

func (r *Repository) ListCompleted(ctx context.Context, after uuid.UUID, limit int) ([]*kbcontent.Content, error) {
	query := `
		SELECT ` + contentColumns + `
		FROM knowledge_content
		WHERE upload_status = 'Completed' AND content_id > $1
		ORDER BY content_id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, after, limit)
	if err != nil {
		return nil, handlePostgresError("list completed", err)
	}
	defer rows.Close()

	var out []*kbcontent.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, handlePostgresError("list completed", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list completed", err)
	}
	return out, nil
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE knowledge_content
		SET upload_status = 'Failed', updated_at = now()
		WHERE content_id = $1 AND upload_status = 'Completed'`, id)
	if err != nil {
		return false, handlePostgresError("mark failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

const contentColumns = `content_id, uploader_id, title, description, content_type,
	file_name, file_path, file_size, mime_type, view_count, download_count,
	upload_status, created_at, updated_at`

func scanContent(row pgx.Row) (*kbcontent.Content, error) {
	var c kbcontent.Content
	var contentType, status string
	err := row.Scan(&c.ID, &c.UploaderID, &c.Title, &c.Description, &contentType,
		&c.FileName, &c.FilePath, &c.FileSize, &c.MimeType, &c.ViewCount, &c.DownloadCount,
		&status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ContentType = kbcontent.ContentType(contentType)
	c.UploadStatus = kbcontent.UploadStatus(status)
	return &c, nil
}
