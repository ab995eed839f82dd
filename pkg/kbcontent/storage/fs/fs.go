package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
	"github.com/tendant/knowledge-content/pkg/kbcontent/presigned"
)

// Backend is a filesystem implementation of the kbcontent.BlobStore interface.
// Objects are served by this process behind HMAC-signed URLs.
type Backend struct {
	baseDir string
	baseURL string
	signer  *presigned.Signer
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
	BaseURL string // Public origin prepended to signed paths, e.g. https://kb.example.com
	Signer  *presigned.Signer
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.Signer == nil || !config.Signer.IsEnabled() {
		return nil, errors.New("a signer with a secret key is required")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir: baseDir,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		signer:  config.Signer,
	}, nil
}

var _ kbcontent.BlobStore = (*Backend)(nil)

func (b *Backend) Name() string { return "fs" }

// path maps key below baseDir, rejecting keys that would escape it
func (b *Backend) path(key string) (string, error) {
	if key == "" {
		return "", errors.New("object key is required")
	}
	p := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if p == b.baseDir || !strings.HasPrefix(p, b.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return p, nil
}

// Put writes to a temporary file first so readers never see partial objects
func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, params kbcontent.PutParams) (*kbcontent.PutResult, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return &kbcontent.PutResult{Key: key, PublicRef: "file://" + filePath}, nil
}

// Delete removes the file and any directories left empty; missing files are ignored
func (b *Backend) Delete(ctx context.Context, key string) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

func (b *Backend) cleanupEmptyDirectories(dir string) {
	for dir != b.baseDir && strings.HasPrefix(dir, b.baseDir) {
		// Remove fails on non-empty directories, which ends the walk.
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (b *Backend) Sign(ctx context.Context, key string, ttl time.Duration) (*kbcontent.SignedURL, error) {
	if _, err := b.path(key); err != nil {
		return nil, err
	}
	u, err := b.signer.SignKey(http.MethodGet, key, ttl)
	if err != nil {
		return nil, err
	}
	return &kbcontent.SignedURL{URL: b.baseURL + u, ExpiresIn: int(ttl.Seconds())}, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	filePath, err := b.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get file info: %w", err)
	}
	return !info.IsDir(), nil
}

// Open returns the file for serving signed URLs
func (b *Backend) Open(ctx context.Context, key string) (io.ReadSeekCloser, *kbcontent.ObjectInfo, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, kbcontent.ErrObjectNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		file.Close()
		return nil, nil, kbcontent.ErrObjectNotFound
	}

	contentType := "application/octet-stream"
	buffer := make([]byte, 512)
	if n, err := file.Read(buffer); err == nil || errors.Is(err, io.EOF) {
		contentType = http.DetectContentType(buffer[:n])
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to rewind file: %w", err)
	}

	return file, &kbcontent.ObjectInfo{
		Key:      key,
		Size:     info.Size(),
		MimeType: contentType,
		FileName: filepath.Base(filePath),
		Modified: info.ModTime(),
	}, nil
}
