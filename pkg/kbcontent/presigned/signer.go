package presigned

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const keyPlaceholder = "{key}"

// Signer generates and validates HMAC-signed URLs
type Signer struct {
	secretKey         []byte
	defaultExpiration time.Duration
	urlPattern        string
	now               func() time.Time
}

// New creates a new Signer with the given options
func New(opts ...Option) *Signer {
	s := &Signer{
		defaultExpiration: 5 * time.Minute,
		urlPattern:        "/blobs/{key}",
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SignURL returns path with signature and expires query parameters appended.
//
//	url, err := signer.SignURL("GET", "/blobs/report.pdf", time.Minute)
//	// /blobs/report.pdf?signature=abc123...&expires=1696789012
func (s *Signer) SignURL(method, path string, expiresIn time.Duration) (string, error) {
	if len(s.secretKey) == 0 {
		return "", ErrNoSecretKey
	}

	if expiresIn <= 0 {
		expiresIn = s.defaultExpiration
	}

	expiresAt := s.now().Add(expiresIn).Unix()
	signature := s.generateSignature(s.createPayload(method, path, expiresAt))

	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%ssignature=%s&expires=%d", path, separator, signature, expiresAt), nil
}

// SignKey signs the URL pattern with key substituted. Each key segment is
// path-escaped in the returned URL while the signature covers the decoded path.
func (s *Signer) SignKey(method, key string, expiresIn time.Duration) (string, error) {
	path, err := s.PathForKey(key)
	if err != nil {
		return "", err
	}
	signed, err := s.SignURL(method, path, expiresIn)
	if err != nil {
		return "", err
	}
	return escapePath(path) + signed[len(path):], nil
}

// PathForKey renders the URL pattern for key
func (s *Signer) PathForKey(key string) (string, error) {
	if !strings.Contains(s.urlPattern, keyPlaceholder) {
		return "", fmt.Errorf("URL pattern %q does not contain %s placeholder", s.urlPattern, keyPlaceholder)
	}
	return strings.Replace(s.urlPattern, keyPlaceholder, strings.TrimPrefix(key, "/"), 1), nil
}

// ValidateRequest validates the signature and expiration of an HTTP request
func (s *Signer) ValidateRequest(r *http.Request) error {
	if len(s.secretKey) == 0 {
		return ErrNoSecretKey
	}

	query := r.URL.Query()
	signature := query.Get("signature")
	expiresStr := query.Get("expires")

	if signature == "" {
		return ErrMissingSignature
	}
	if expiresStr == "" {
		return ErrMissingExpiration
	}

	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}

	path := r.URL.Path
	cleanQuery := url.Values{}
	for k, v := range query {
		if k != "signature" && k != "expires" {
			cleanQuery[k] = v
		}
	}
	if len(cleanQuery) > 0 {
		path = path + "?" + cleanQuery.Encode()
	}

	return s.Validate(r.Method, path, signature, expiresAt)
}

// Validate checks a signature and expiration for the given method and path
func (s *Signer) Validate(method, path, signature string, expiresAt int64) error {
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}

	expected := s.generateSignature(s.createPayload(method, path, expiresAt))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// ExtractObjectKey extracts the object key from a URL path based on the URL pattern
func (s *Signer) ExtractObjectKey(path string) (string, error) {
	idx := strings.Index(s.urlPattern, keyPlaceholder)
	if idx == -1 {
		return "", fmt.Errorf("URL pattern %q does not contain %s placeholder", s.urlPattern, keyPlaceholder)
	}

	prefix := s.urlPattern[:idx]
	suffix := s.urlPattern[idx+len(keyPlaceholder):]

	if !strings.HasPrefix(path, prefix) {
		return "", ErrPatternMismatch
	}
	key := strings.TrimPrefix(path, prefix)
	if suffix != "" {
		if !strings.HasSuffix(key, suffix) {
			return "", ErrPatternMismatch
		}
		key = strings.TrimSuffix(key, suffix)
	}
	if key == "" {
		return "", ErrPatternMismatch
	}
	return key, nil
}

// IsEnabled returns true if a secret key is set
func (s *Signer) IsEnabled() bool {
	return len(s.secretKey) > 0
}

// createPayload formats METHOD|PATH|EXPIRES
func (s *Signer) createPayload(method, path string, expiresAt int64) string {
	return fmt.Sprintf("%s|%s|%d", method, path, expiresAt)
}

func (s *Signer) generateSignature(payload string) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
