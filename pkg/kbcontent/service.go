package kbcontent

import (
	"context"

	"github.com/google/uuid"
)

// Service is the main interface for the knowledge-base content lifecycle
type Service interface {
	// Upload stores the file, records its metadata and tags and returns the
	// Completed content. A failure after the file was stored removes it again.
	Upload(ctx context.Context, principal Principal, req UploadRequest) (*Content, error)

	// CanUpload returns an AccessError unless principal's role may upload
	CanUpload(principal Principal) error

	// GetContent counts a view and returns the joined read model
	GetContent(ctx context.Context, id uuid.UUID) (*ContentView, error)

	// Search runs a filtered, sorted and paginated query
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// ListPopular pages through Completed content by popularity or recency
	ListPopular(ctx context.Context, params PopularParams) (*SearchResult, error)

	// FilterOptions lists content types, uploaders and tags for the search filters
	FilterOptions(ctx context.Context) (*FilterOptions, error)

	// UpdateContent applies a partial update on behalf of the uploader or an admin
	UpdateContent(ctx context.Context, principal Principal, id uuid.UUID, req UpdateContentRequest) (*ContentView, error)

	// DeleteContent removes the stored object and then the metadata
	DeleteContent(ctx context.Context, principal Principal, id uuid.UUID) error

	// GetDownloadURL counts a download and issues a time-limited URL
	GetDownloadURL(ctx context.Context, id uuid.UUID) (*DownloadURL, error)

	// Reconcile marks Completed rows whose object is missing as Failed
	Reconcile(ctx context.Context, batchSize int) (*ReconcileReport, error)
}
