package kbcontent

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// UploadStatus is the lifecycle state of an uploaded content item.
type UploadStatus string

const (
	UploadStatusUploading  UploadStatus = "Uploading"
	UploadStatusProcessing UploadStatus = "Processing"
	UploadStatusCompleted  UploadStatus = "Completed"
	UploadStatusFailed     UploadStatus = "Failed"
)

// IsValid reports whether s is a known upload status.
func (s UploadStatus) IsValid() bool {
	switch s {
	case UploadStatusUploading, UploadStatusProcessing, UploadStatusCompleted, UploadStatusFailed:
		return true
	}
	return false
}

// ContentType classifies a document.
type ContentType string

const (
	ContentTypeSalesSheet   ContentType = "Sales Sheet"
	ContentTypeTechnicalDoc ContentType = "Technical Doc"
	ContentTypeCaseStudy    ContentType = "Case Study"
	ContentTypePresentation ContentType = "Presentation"
	ContentTypeOther        ContentType = "Other"
)

// ContentTypes lists the known content types in display order.
func ContentTypes() []ContentType {
	return []ContentType{
		ContentTypeSalesSheet,
		ContentTypeTechnicalDoc,
		ContentTypeCaseStudy,
		ContentTypePresentation,
		ContentTypeOther,
	}
}

// IsValid reports whether t is a known content type.
func (t ContentType) IsValid() bool {
	switch t {
	case ContentTypeSalesSheet, ContentTypeTechnicalDoc, ContentTypeCaseStudy,
		ContentTypePresentation, ContentTypeOther:
		return true
	}
	return false
}

// Roles recognised by the engine.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
)

// MaxTitleLength bounds Content.Title in characters.
const MaxTitleLength = 255

// Content is a single uploaded document and its metadata.
type Content struct {
	ID            uuid.UUID    `json:"content_id"`
	UploaderID    string       `json:"uploader_id"`
	Title         string       `json:"title"`
	Description   *string      `json:"description"`
	ContentType   ContentType  `json:"content_type"`
	FileName      string       `json:"file_name"`
	FilePath      string       `json:"file_path"`
	FileSize      int64        `json:"file_size"`
	MimeType      string       `json:"mime_type"`
	ViewCount     int64        `json:"view_count"`
	DownloadCount int64        `json:"download_count"`
	UploadStatus  UploadStatus `json:"upload_status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Tag is a normalized label shared across content items.
type Tag struct {
	ID        uuid.UUID `json:"tag_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Uploader identifies the user who uploaded a content item.
type Uploader struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// ContentView is the read model returned to clients: the content joined with
// its uploader's display name and tag names.
type ContentView struct {
	ID            uuid.UUID    `json:"content_id"`
	Title         string       `json:"title"`
	Description   *string      `json:"description"`
	ContentType   ContentType  `json:"content_type"`
	FileName      string       `json:"file_name"`
	FileSize      int64        `json:"file_size"`
	MimeType      string       `json:"mime_type"`
	ViewCount     int64        `json:"view_count"`
	DownloadCount int64        `json:"download_count"`
	UploadStatus  UploadStatus `json:"upload_status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Uploader      Uploader     `json:"uploader"`
	Tags          []string     `json:"tags"`

	// Relevance is only populated for searches ranked by a query.
	Relevance float64 `json:"-"`
}

// Principal is the authenticated caller attached by upstream middleware.
type Principal struct {
	ID   string
	Role string
}

// IsAdmin reports whether the principal holds the elevated role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// UploadRequest carries a new document into the ingestion pipeline.
type UploadRequest struct {
	File        io.Reader
	FileName    string
	FileSize    int64
	MimeType    string
	Title       string
	Description *string
	// Tags is a comma separated list of tag names.
	Tags        string
	ContentType ContentType
}

// UpdateContentRequest is a partial update. Nil fields are left unchanged; a
// non-nil Tags replaces the whole tag set.
type UpdateContentRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// ContentChanges is the set of scalar columns an update writes.
type ContentChanges struct {
	Title *string
	// SetDescription applies Description; a nil Description clears it.
	SetDescription bool
	Description    *string
	UpdatedAt      time.Time
}

// Sort keys accepted by Search.
const (
	SortByRelevance  = "relevance"
	SortByPopularity = "popularity"
	SortByCreatedAt  = "createdAt"
)

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Pagination bounds.
const (
	DefaultPage         = 1
	DefaultSearchLimit  = 20
	DefaultPopularLimit = 9
	MaxPageLimit        = 100
)

// SearchParams holds the optional, AND-combined filters of a search together
// with sorting and pagination.
type SearchParams struct {
	Query       string
	ContentType ContentType
	AuthorID    string
	StartDate   *time.Time
	EndDate     *time.Time
	Tags        []string
	SortBy      string
	SortOrder   string
	Page        int
	Limit       int
}

// Offset returns the number of rows to skip for the requested page.
func (p SearchParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// PopularParams selects a page of published content.
type PopularParams struct {
	Page   int
	Limit  int
	SortBy string
}

// Offset returns the number of rows to skip for the requested page.
func (p PopularParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// SearchResult is a page of results with totals computed over the full match set.
type SearchResult struct {
	Page         int            `json:"page"`
	Limit        int            `json:"limit"`
	TotalResults int            `json:"total_results"`
	TotalPages   int            `json:"total_pages"`
	Results      []*ContentView `json:"results"`
}

// FilterOptions lists the values the search filters accept.
type FilterOptions struct {
	ContentTypes []ContentType `json:"contentTypes"`
	Authors      []Uploader    `json:"authors"`
	Tags         []string      `json:"tags"`
}

// DownloadURL is a time-limited capability to read one object.
type DownloadURL struct {
	URL       string `json:"download_url"`
	ExpiresIn int    `json:"expires_in"`
}

// ReconcileReport summarises one reconciliation sweep.
type ReconcileReport struct {
	Checked      int `json:"checked"`
	MarkedFailed int `json:"marked_failed"`
}

// Ownership is the minimal row projection used for authorization and deletion.
type Ownership struct {
	UploaderID   string
	FilePath     string
	UploadStatus UploadStatus
}

func totalPages(total, limit int) int {
	if total == 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
