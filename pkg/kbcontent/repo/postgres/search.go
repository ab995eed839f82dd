package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
)

const viewColumns = `c.content_id, c.title, c.description, c.content_type, c.file_name,
	c.file_size, c.mime_type, c.view_count, c.download_count, c.upload_status,
	c.created_at, c.updated_at, c.uploader_id, COALESCE(u.display_name, ''),
	ARRAY(SELECT t.tag_name FROM content_tags ct JOIN tags t ON t.tag_id = ct.tag_id
	      WHERE ct.content_id = c.content_id ORDER BY t.tag_name)`

const viewFrom = `FROM knowledge_content c LEFT JOIN users u ON u.user_id = c.uploader_id`

func scanView(row pgx.Row) (*kbcontent.ContentView, error) {
	var v kbcontent.ContentView
	var contentType, status string
	err := row.Scan(&v.ID, &v.Title, &v.Description, &contentType, &v.FileName,
		&v.FileSize, &v.MimeType, &v.ViewCount, &v.DownloadCount, &status,
		&v.CreatedAt, &v.UpdatedAt, &v.Uploader.UserID, &v.Uploader.Name,
		&v.Tags, &v.Relevance)
	if err != nil {
		return nil, err
	}
	v.ContentType = kbcontent.ContentType(contentType)
	v.UploadStatus = kbcontent.UploadStatus(status)
	if v.Tags == nil {
		v.Tags = []string{}
	}
	return &v, nil
}

// whereBuilder accumulates AND-combined conditions with numbered placeholders.
type whereBuilder struct {
	conditions []string
	args       []interface{}
}

func (b *whereBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *whereBuilder) add(condition string) {
	b.conditions = append(b.conditions, condition)
}

func (b *whereBuilder) sql() string {
	if len(b.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conditions, " AND ")
}

// tsQuery turns search terms into a prefix-matching conjunction. Terms only
// contain letters and digits.
func tsQuery(terms []string) string {
	parts := make([]string, len(terms))
	for i, term := range terms {
		parts[i] = term + ":*"
	}
	return strings.Join(parts, " & ")
}

// buildSearch returns the page query and the count query for params, which
// must already be normalized. Both share the same predicate.
func buildSearch(params kbcontent.SearchParams) (query string, countQuery string, args []interface{}, countArgs []interface{}) {
	b := &whereBuilder{}
	relevance := "0::float8"

	if terms := kbcontent.SearchTerms(params.Query); len(terms) > 0 {
		q := b.arg(tsQuery(terms))
		b.add(fmt.Sprintf("c.search_vector @@ to_tsquery('simple', %s)", q))
		relevance = fmt.Sprintf("ts_rank(c.search_vector, to_tsquery('simple', %s))::float8", q)
	}
	if params.ContentType != "" {
		b.add("c.content_type = " + b.arg(string(params.ContentType)))
	}
	if params.AuthorID != "" {
		b.add("c.uploader_id = " + b.arg(params.AuthorID))
	}
	if params.StartDate != nil {
		b.add("c.created_at >= " + b.arg(*params.StartDate))
	}
	if params.EndDate != nil {
		b.add("c.created_at <= " + b.arg(*params.EndDate))
	}
	if len(params.Tags) > 0 {
		names := b.arg(params.Tags)
		count := b.arg(len(params.Tags))
		b.add(fmt.Sprintf(`c.content_id IN (
			SELECT ct.content_id FROM content_tags ct JOIN tags t ON t.tag_id = ct.tag_id
			WHERE t.tag_name = ANY(%s::text[])
			GROUP BY ct.content_id
			HAVING COUNT(DISTINCT t.tag_name) = %s)`, names, count))
	}

	where := b.sql()
	countQuery = "SELECT COUNT(*) FROM knowledge_content c" + where
	countArgs = append([]interface{}(nil), b.args...)

	dir := "DESC"
	if params.SortOrder == kbcontent.SortAsc {
		dir = "ASC"
	}
	var orderExpr string
	switch params.SortBy {
	case kbcontent.SortByRelevance:
		orderExpr = "relevance"
	case kbcontent.SortByPopularity:
		orderExpr = "(c.view_count + c.download_count)"
	default:
		orderExpr = "c.created_at"
	}

	limit := b.arg(params.Limit)
	offset := b.arg(params.Offset())
	query = fmt.Sprintf("SELECT %s, %s AS relevance %s%s ORDER BY %s %s, c.content_id %s LIMIT %s OFFSET %s",
		viewColumns, relevance, viewFrom, where, orderExpr, dir, dir, limit, offset)
	return query, countQuery, b.args, countArgs
}

func (r *Repository) Search(ctx context.Context, params kbcontent.SearchParams) ([]*kbcontent.ContentView, int, error) {
	query, countQuery, args, countArgs := buildSearch(params)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, handlePostgresError("count search", err)
	}
	if total == 0 {
		return []*kbcontent.ContentView{}, 0, nil
	}

	items, err := r.queryViews(ctx, "search", query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) ListPopular(ctx context.Context, params kbcontent.PopularParams) ([]*kbcontent.ContentView, int, error) {
	var total int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_content WHERE upload_status = 'Completed'`).Scan(&total)
	if err != nil {
		return nil, 0, handlePostgresError("count popular", err)
	}
	if total == 0 {
		return []*kbcontent.ContentView{}, 0, nil
	}

	order := "c.created_at DESC, c.content_id DESC"
	if params.SortBy == kbcontent.SortByPopularity {
		order = "c.view_count DESC, c.created_at DESC, c.content_id DESC"
	}
	query := fmt.Sprintf(`SELECT %s, 0::float8 %s WHERE c.upload_status = 'Completed' ORDER BY %s LIMIT $1 OFFSET $2`,
		viewColumns, viewFrom, order)

	items, err := r.queryViews(ctx, "popular", query, params.Limit, params.Offset())
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) FilterOptions(ctx context.Context) (*kbcontent.FilterOptions, error) {
	opts := &kbcontent.FilterOptions{Authors: []kbcontent.Uploader{}, Tags: []string{}}

	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT c.uploader_id, COALESCE(u.display_name, '') AS name
		FROM knowledge_content c
		LEFT JOIN users u ON u.user_id = c.uploader_id
		ORDER BY name, c.uploader_id`)
	if err != nil {
		return nil, handlePostgresError("list authors", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a kbcontent.Uploader
		if err := rows.Scan(&a.UserID, &a.Name); err != nil {
			return nil, handlePostgresError("list authors", err)
		}
		opts.Authors = append(opts.Authors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list authors", err)
	}

	tagRows, err := r.db.Query(ctx, `SELECT tag_name FROM tags ORDER BY tag_name`)
	if err != nil {
		return nil, handlePostgresError("list tags", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var name string
		if err := tagRows.Scan(&name); err != nil {
			return nil, handlePostgresError("list tags", err)
		}
		opts.Tags = append(opts.Tags, name)
	}
	if err := tagRows.Err(); err != nil {
		return nil, handlePostgresError("list tags", err)
	}
	return opts, nil
}

func (r *Repository) queryViews(ctx context.Context, op, query string, args ...interface{}) ([]*kbcontent.ContentView, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError(op, err)
	}
	defer rows.Close()

	items := []*kbcontent.ContentView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, handlePostgresError(op, err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError(op, err)
	}
	return items, nil
}
