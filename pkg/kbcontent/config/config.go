package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
	"github.com/tendant/knowledge-content/pkg/kbcontent/objectkey"
	"github.com/tendant/knowledge-content/pkg/kbcontent/presigned"
	"github.com/tendant/knowledge-content/pkg/kbcontent/repo/memory"
	repopg "github.com/tendant/knowledge-content/pkg/kbcontent/repo/postgres"
	fsstorage "github.com/tendant/knowledge-content/pkg/kbcontent/storage/fs"
	memorystorage "github.com/tendant/knowledge-content/pkg/kbcontent/storage/memory"
	s3storage "github.com/tendant/knowledge-content/pkg/kbcontent/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:            "8080",
		Environment:     "development",
		LogLevel:        "info",
		LogFormat:       "json",
		DatabaseURL:     "memory",
		StorageURL:      "memory://",
		S3Region:        "us-east-1",
		MaxUploadBytes:  kbcontent.DefaultMaxFileSize,
		SignedURLTTL:    kbcontent.DefaultSignTTL,
		UploadRoles:     []string{kbcontent.RoleAdmin, kbcontent.RoleEditor},
		TagCacheSize:    kbcontent.DefaultTagCacheSize,
		TagCacheTTL:     kbcontent.DefaultTagCacheTTL,
		ObjectKeyLayout: "flat",
		RequestTimeout:  60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// ServerConfig represents server configuration for the knowledge-content service.
// The env tags are read by WithEnv.
type ServerConfig struct {
	Port        string `env:"PORT" env-description:"HTTP listen port"`
	Environment string `env:"ENVIRONMENT" env-description:"development, production or testing"`
	LogLevel    string `env:"LOG_LEVEL" env-description:"debug, info, warn or error"`
	LogFormat   string `env:"LOG_FORMAT" env-description:"json or text"`

	// Database configuration
	DatabaseURL string `env:"DATABASE_URL" env-description:"postgres:// URL, or memory for the in-process repository"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" env-description:"pgx pool size, 0 keeps the driver default"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" env-description:"apply schema migrations at startup"`

	// Storage configuration
	StorageURL        string `env:"STORAGE_URL" env-description:"memory://, file:///dir or s3://bucket"`
	S3Region          string `env:"S3_REGION" env-description:"S3 region"`
	S3Endpoint        string `env:"S3_ENDPOINT" env-description:"custom endpoint for S3 compatible services"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID" env-description:"static S3 access key"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY" env-description:"static S3 secret key"`
	S3UsePathStyle    bool   `env:"S3_USE_PATH_STYLE" env-description:"path-style addressing (MinIO)"`
	S3CreateBucket    bool   `env:"S3_CREATE_BUCKET" env-description:"create the bucket when missing"`
	S3SSEAlgorithm    string `env:"S3_SSE_ALGORITHM" env-description:"AES256 or aws:kms, empty disables SSE"`
	S3SSEKMSKeyID     string `env:"S3_SSE_KMS_KEY_ID" env-description:"KMS key for aws:kms"`

	BlobSigningSecret string `env:"BLOB_SIGNING_SECRET" env-description:"HMAC secret for /blobs URLs"`
	PublicBaseURL     string `env:"PUBLIC_BASE_URL" env-description:"origin prepended to signed /blobs URLs"`
	ObjectKeyLayout   string `env:"OBJECT_KEY_LAYOUT" env-description:"flat or git-like"`

	// API configuration
	JWTSecret       string        `env:"JWT_SECRET" env-description:"HS256 secret for bearer tokens"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES" env-description:"largest accepted upload"`
	SignedURLTTL    time.Duration `env:"SIGNED_URL_TTL" env-description:"download URL lifetime"`
	UploadRoles     []string      `env:"UPLOAD_ROLES" env-description:"comma separated roles allowed to upload"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" env-description:"per-request timeout for API routes"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-description:"graceful shutdown deadline"`

	// Tag cache
	TagCacheSize int           `env:"TAG_CACHE_SIZE" env-description:"cached tag ids, 0 disables the cache"`
	TagCacheTTL  time.Duration `env:"TAG_CACHE_TTL" env-description:"tag cache entry lifetime"`
}

// Database types
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
)

// Storage backend types
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
)

// DatabaseType reports which repository DatabaseURL selects.
func (c *ServerConfig) DatabaseType() string {
	if strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return DatabasePostgres
	}
	return DatabaseMemory
}

// StorageLocation is a parsed STORAGE_URL
type StorageLocation struct {
	Type string
	// Path is the base directory for fs and the bucket for s3
	Path string
}

// ParseStorageURL splits a STORAGE_URL into backend type and location.
func ParseStorageURL(raw string) (StorageLocation, error) {
	if raw == "" || raw == "memory" || raw == "memory://" {
		return StorageLocation{Type: StorageMemory}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return StorageLocation{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	switch u.Scheme {
	case "file":
		dir := u.Path
		if u.Host != "" {
			// file://relative/dir
			dir = u.Host + u.Path
		}
		if dir == "" {
			return StorageLocation{}, errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageLocation{Type: StorageFS, Path: dir}, nil
	case "s3":
		if u.Host == "" {
			return StorageLocation{}, errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}
		return StorageLocation{Type: StorageS3, Path: u.Host}, nil
	}
	return StorageLocation{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}

// Validate reports every configuration problem at once.
func (c *ServerConfig) Validate() error {
	var result *multierror.Error

	if c.Port == "" {
		result = multierror.Append(result, errors.New("port is required"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		result = multierror.Append(result, fmt.Errorf("log format must be json or text, got %q", c.LogFormat))
	}

	if c.DatabaseURL != "" && c.DatabaseURL != DatabaseMemory && c.DatabaseType() != DatabasePostgres {
		result = multierror.Append(result, fmt.Errorf("unsupported DATABASE_URL format (use 'memory' or 'postgresql://...')"))
	}
	if c.DBMaxConns < 0 {
		result = multierror.Append(result, errors.New("db max conns must not be negative"))
	}
	if c.AutoMigrate && c.DatabaseType() != DatabasePostgres {
		result = multierror.Append(result, errors.New("auto migrate requires a postgres DATABASE_URL"))
	}

	loc, err := ParseStorageURL(c.StorageURL)
	if err != nil {
		result = multierror.Append(result, err)
	} else if loc.Type == StorageFS && c.BlobSigningSecret == "" {
		result = multierror.Append(result, errors.New("filesystem storage requires BLOB_SIGNING_SECRET"))
	}
	if _, err := objectkey.New(c.ObjectKeyLayout); err != nil {
		result = multierror.Append(result, err)
	}

	if c.MaxUploadBytes <= 0 {
		result = multierror.Append(result, errors.New("max upload bytes must be positive"))
	}
	if c.SignedURLTTL <= 0 {
		result = multierror.Append(result, errors.New("signed URL TTL must be positive"))
	}
	if len(c.UploadRoles) == 0 {
		result = multierror.Append(result, errors.New("at least one upload role is required"))
	}
	if c.RequestTimeout < 0 || c.ShutdownTimeout < 0 {
		result = multierror.Append(result, errors.New("timeouts must not be negative"))
	}
	if c.TagCacheSize < 0 || c.TagCacheTTL < 0 {
		result = multierror.Append(result, errors.New("tag cache size and TTL must not be negative"))
	}

	return result.ErrorOrNil()
}

// ValidateServe checks the settings only the HTTP server needs.
func (c *ServerConfig) ValidateServe() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to serve the API")
	}
	return nil
}

// Components are the wired dependencies of a running service.
type Components struct {
	Service    kbcontent.Service
	Repository kbcontent.Repository
	BlobStore  kbcontent.BlobStore

	// Signer and Objects are set when the blob store serves its own signed URLs.
	Signer  *presigned.Signer
	Objects kbcontent.ObjectOpener

	pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (c *Components) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Build wires repository, blob store, tag cache and key generator into a Service.
func (c *ServerConfig) Build(ctx context.Context) (*Components, error) {
	comps := &Components{}

	if c.BlobSigningSecret != "" {
		comps.Signer = presigned.New(
			presigned.WithSecretKey(c.BlobSigningSecret),
			presigned.WithDefaultExpiration(c.SignedURLTTL),
		)
	}

	repo, pool, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	comps.Repository = repo
	comps.pool = pool

	store, err := c.buildStorageBackend(ctx, comps.Signer)
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}
	comps.BlobStore = store
	if opener, ok := store.(kbcontent.ObjectOpener); ok && comps.Signer != nil {
		comps.Objects = opener
	}

	keyGen, err := objectkey.New(c.ObjectKeyLayout)
	if err != nil {
		comps.Close()
		return nil, err
	}

	svc, err := kbcontent.New(
		kbcontent.WithRepository(repo),
		kbcontent.WithBlobStore(store),
		kbcontent.WithEventSink(kbcontent.NewLogEventSink()),
		kbcontent.WithTagResolver(kbcontent.NewTagResolver(c.TagCacheSize, c.TagCacheTTL)),
		kbcontent.WithKeyGenerator(keyGen),
		kbcontent.WithSignTTL(c.SignedURLTTL),
		kbcontent.WithMaxFileSize(c.MaxUploadBytes),
		kbcontent.WithUploadRoles(c.UploadRoles...),
	)
	if err != nil {
		comps.Close()
		return nil, err
	}
	comps.Service = svc
	return comps, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (kbcontent.Repository, *pgxpool.Pool, error) {
	if c.DatabaseType() == DatabaseMemory {
		return memory.New(), nil, nil
	}

	if c.AutoMigrate {
		if err := repopg.Migrate(c.DatabaseURL); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if c.DBMaxConns > 0 {
		cfg.MaxConns = c.DBMaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return repopg.NewWithPool(pool), pool, nil
}

// buildStorageBackend creates a BlobStore based on STORAGE_URL
func (c *ServerConfig) buildStorageBackend(ctx context.Context, signer *presigned.Signer) (kbcontent.BlobStore, error) {
	loc, err := ParseStorageURL(c.StorageURL)
	if err != nil {
		return nil, err
	}

	switch loc.Type {
	case StorageMemory:
		if signer == nil {
			return memorystorage.New(), nil
		}
		return memorystorage.New(memorystorage.WithSigner(signer, c.PublicBaseURL)), nil

	case StorageFS:
		return fsstorage.New(fsstorage.Config{
			BaseDir: loc.Path,
			BaseURL: c.PublicBaseURL,
			Signer:  signer,
		})

	case StorageS3:
		if signer != nil {
			slog.Info("BLOB_SIGNING_SECRET is ignored by the s3 backend; S3 presigns its own URLs")
		}
		return s3storage.New(ctx, s3storage.Config{
			Region:                 c.S3Region,
			Bucket:                 loc.Path,
			AccessKeyID:            c.S3AccessKeyID,
			SecretAccessKey:        c.S3SecretAccessKey,
			Endpoint:               c.S3Endpoint,
			UsePathStyle:           c.S3UsePathStyle,
			EnableSSE:              c.S3SSEAlgorithm != "",
			SSEAlgorithm:           c.S3SSEAlgorithm,
			SSEKMSKeyID:            c.S3SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3CreateBucket,
		})
	}
	return nil, fmt.Errorf("unsupported storage backend type: %s", loc.Type)
}
