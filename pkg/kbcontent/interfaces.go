package kbcontent

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for storage backends
type BlobStore interface {
	// Name identifies the backend in errors and logs
	Name() string

	// Put stores the reader's content under key
	Put(ctx context.Context, key string, reader io.Reader, params PutParams) (*PutResult, error)

	// Delete removes the object at key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Sign returns a time-limited read URL for key without touching the object
	Sign(ctx context.Context, key string, ttl time.Duration) (*SignedURL, error)

	// Exists reports whether an object is stored at key
	Exists(ctx context.Context, key string) (bool, error)
}

// PutParams contains parameters for storing an object
type PutParams struct {
	FileName string
	MimeType string
	Size     int64
}

// PutResult describes a stored object
type PutResult struct {
	Key       string
	PublicRef string
}

// SignedURL is a read capability issued by a BlobStore
type SignedURL struct {
	URL       string
	ExpiresIn int
}

// Repository defines the interface for content metadata persistence.
// Multi-row mutations go through a Tx obtained from Begin.
type Repository interface {
	Begin(ctx context.Context) (Tx, error)

	// Search returns one page of matches and the total match count
	Search(ctx context.Context, params SearchParams) ([]*ContentView, int, error)

	// ListPopular returns one page of Completed content and the total count
	ListPopular(ctx context.Context, params PopularParams) ([]*ContentView, int, error)

	// ListCompleted returns up to limit Completed rows with id greater than after, ordered by id
	ListCompleted(ctx context.Context, after uuid.UUID, limit int) ([]*Content, error)

	// MarkFailed flips a Completed row to Failed. It reports false if the row
	// is gone or no longer Completed.
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)

	// FilterOptions returns every uploader ordered by name and every tag
	// name in order. ContentTypes is left for the caller.
	FilterOptions(ctx context.Context) (*FilterOptions, error)

	// Ping checks datastore connectivity
	Ping(ctx context.Context) error
}

// Tx is a unit of work against the Repository. Implementations must make
// Rollback after Commit a no-op.
type Tx interface {
	InsertContent(ctx context.Context, content *Content) error

	// IncrementViewCount reports false when no row matched id
	IncrementViewCount(ctx context.Context, id uuid.UUID) (bool, error)

	// IncrementDownloadCount reports false when no row matched id
	IncrementDownloadCount(ctx context.Context, id uuid.UUID) (bool, error)

	// GetView returns the joined read model or ErrContentNotFound
	GetView(ctx context.Context, id uuid.UUID) (*ContentView, error)

	// LockOwnership locks the row for the rest of the transaction and returns
	// its owner, object key and status, or ErrContentNotFound
	LockOwnership(ctx context.Context, id uuid.UUID) (*Ownership, error)

	UpdateContent(ctx context.Context, id uuid.UUID, changes ContentChanges) error
	DeleteContent(ctx context.Context, id uuid.UUID) error

	// UpsertTag returns the id of the tag called name, creating it when
	// missing. created reports whether this transaction inserted it.
	UpsertTag(ctx context.Context, name string) (id uuid.UUID, created bool, err error)

	DeleteTagAssociations(ctx context.Context, contentID uuid.UUID) error
	InsertTagAssociations(ctx context.Context, contentID uuid.UUID, tagIDs []uuid.UUID) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EventSink receives lifecycle notifications after a change is committed
type EventSink interface {
	// ContentCreated is fired when content is ingested
	ContentCreated(ctx context.Context, content *Content) error

	// ContentUpdated is fired when content metadata changes
	ContentUpdated(ctx context.Context, view *ContentView) error

	// ContentDeleted is fired when content is deleted
	ContentDeleted(ctx context.Context, contentID uuid.UUID) error
}

// ObjectOpener is implemented by backends whose objects are served by this
// process, e.g. behind HMAC-signed URLs.
type ObjectOpener interface {
	Open(ctx context.Context, key string) (io.ReadSeekCloser, *ObjectInfo, error)
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key      string
	Size     int64
	MimeType string
	FileName string
	Modified time.Time
}
