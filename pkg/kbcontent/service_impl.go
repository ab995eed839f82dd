package kbcontent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/knowledge-content/pkg/kbcontent/objectkey"
)

// Defaults applied by New.
const (
	DefaultMaxFileSize int64 = 50 << 20
	DefaultSignTTL           = 300 * time.Second
	DefaultTagCacheSize      = 1024
	DefaultTagCacheTTL       = 10 * time.Minute
)

// service implements the Service interface
type service struct {
	repository  Repository
	blobStore   BlobStore
	eventSink   EventSink
	tags        *TagResolver
	keyGen      objectkey.Generator
	signTTL     time.Duration
	maxFileSize int64
	uploadRoles map[string]bool
	now         func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob storage backend
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithTagResolver replaces the default tag resolver
func WithTagResolver(resolver *TagResolver) Option {
	return func(s *service) {
		s.tags = resolver
	}
}

// WithKeyGenerator sets the object key strategy
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(s *service) {
		s.keyGen = gen
	}
}

// WithSignTTL sets the lifetime of issued download URLs
func WithSignTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.signTTL = ttl
	}
}

// WithMaxFileSize sets the largest accepted upload in bytes
func WithMaxFileSize(n int64) Option {
	return func(s *service) {
		s.maxFileSize = n
	}
}

// WithUploadRoles sets the roles allowed to upload
func WithUploadRoles(roles ...string) Option {
	return func(s *service) {
		s.uploadRoles = make(map[string]bool, len(roles))
		for _, r := range roles {
			s.uploadRoles[r] = true
		}
	}
}

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		signTTL:     DefaultSignTTL,
		maxFileSize: DefaultMaxFileSize,
		now:         time.Now,
	}
	WithUploadRoles(RoleAdmin, RoleEditor)(s)

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.signTTL <= 0 {
		return nil, fmt.Errorf("sign TTL must be positive")
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.tags == nil {
		s.tags = NewTagResolver(DefaultTagCacheSize, DefaultTagCacheTTL)
	}
	if s.keyGen == nil {
		s.keyGen = objectkey.NewFlatGenerator()
	}

	return s, nil
}

func (s *service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// rollback ends tx after a failure. Rollback errors are logged so the
// original error reaches the caller.
func rollback(ctx context.Context, tx Tx, op string) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrTxDone) {
		slog.Error("Rollback failed", "op", op, "err", err)
	}
}

func authorize(p Principal, ownerID, op string) error {
	if p.IsAdmin() || (p.ID != "" && p.ID == ownerID) {
		return nil
	}
	return &AccessError{PrincipalID: p.ID, Op: op, Err: ErrForbidden}
}
