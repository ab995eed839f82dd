package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
	"github.com/tendant/knowledge-content/pkg/kbcontent/presigned"
)

type object struct {
	data     []byte
	mimeType string
	fileName string
	modified time.Time
}

// Backend is an in-memory implementation of the kbcontent.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object

	signer  *presigned.Signer
	baseURL string
}

// Option configures a Backend
type Option func(*Backend)

// WithSigner makes Sign issue HMAC-signed URLs under baseURL instead of
// memory:// references.
func WithSigner(signer *presigned.Signer, baseURL string) Option {
	return func(b *Backend) {
		b.signer = signer
		b.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{objects: make(map[string]object)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ kbcontent.BlobStore = (*Backend)(nil)

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, params kbcontent.PutParams) (*kbcontent.PutResult, error) {
	if key == "" {
		return nil, fmt.Errorf("object key is required")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = object{data: data, mimeType: mimeType, fileName: params.FileName, modified: time.Now()}
	return &kbcontent.PutResult{Key: key, PublicRef: "memory://" + key}, nil
}

// Delete removes the object; missing objects are ignored
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *Backend) Sign(ctx context.Context, key string, ttl time.Duration) (*kbcontent.SignedURL, error) {
	if b.signer == nil {
		return &kbcontent.SignedURL{
			URL:       fmt.Sprintf("memory://%s?expires=%d", key, time.Now().Add(ttl).Unix()),
			ExpiresIn: int(ttl.Seconds()),
		}, nil
	}
	u, err := b.signer.SignKey(http.MethodGet, key, ttl)
	if err != nil {
		return nil, err
	}
	return &kbcontent.SignedURL{URL: b.baseURL + u, ExpiresIn: int(ttl.Seconds())}, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok, nil
}

// Open returns the object's content for serving signed URLs
func (b *Backend) Open(ctx context.Context, key string) (io.ReadSeekCloser, *kbcontent.ObjectInfo, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, nil, kbcontent.ErrObjectNotFound
	}
	info := &kbcontent.ObjectInfo{
		Key:      key,
		Size:     int64(len(obj.data)),
		MimeType: obj.mimeType,
		FileName: obj.fileName,
		Modified: obj.modified,
	}
	return nopCloser{bytes.NewReader(obj.data)}, info, nil
}

// Len reports the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
