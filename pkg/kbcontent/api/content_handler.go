package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
)

const (
	// multipartOverhead is allowed on top of the file limit for form fields
	// and part headers.
	multipartOverhead = 1 << 20

	// multipartMemory is kept in memory before parts spill to temp files.
	multipartMemory = 8 << 20
)

// ContentHandler serves the content collection
type ContentHandler struct {
	service        kbcontent.Service
	maxUploadBytes int64
}

// NewContentHandler creates a new content handler. maxUploadBytes <= 0 uses
// kbcontent.DefaultMaxFileSize.
func NewContentHandler(service kbcontent.Service, maxUploadBytes int64) *ContentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = kbcontent.DefaultMaxFileSize
	}
	return &ContentHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the routes for content. Callers must install
// Authenticator in front of them.
func (h *ContentHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Upload)
	r.Get("/", h.Search)
	r.Get("/popular", h.ListPopular)
	r.Get("/filters", h.FilterOptions)
	r.Get("/{id}", h.GetContent)
	r.Put("/{id}", h.UpdateContent)
	r.Delete("/{id}", h.DeleteContent)
	r.Get("/{id}/download", h.GetDownloadURL)

	return r
}

// UploadResponse is the body returned for a created content item
type UploadResponse struct {
	ContentID    uuid.UUID              `json:"content_id"`
	Title        string                 `json:"title"`
	UploadStatus kbcontent.UploadStatus `json:"upload_status"`
}

// Upload accepts a multipart form with a file and its metadata
func (h *ContentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.CanUpload(principal); err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, &kbcontent.PayloadTooLargeError{Size: r.ContentLength, Limit: h.maxUploadBytes})
			return
		}
		writeMessage(w, r, http.StatusBadRequest, "request must be a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	req := kbcontent.UploadRequest{
		File:        file,
		FileName:    header.Filename,
		FileSize:    header.Size,
		MimeType:    header.Header.Get("Content-Type"),
		Title:       r.FormValue("title"),
		Tags:        r.FormValue("tags"),
		ContentType: kbcontent.ContentType(r.FormValue("content_type")),
	}
	if values, ok := r.MultipartForm.Value["description"]; ok && len(values) > 0 {
		req.Description = &values[0]
	}

	content, err := h.service.Upload(r.Context(), principal, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("Content uploaded", "content_id", content.ID, "uploader_id", principal.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, UploadResponse{
		ContentID:    content.ID,
		Title:        content.Title,
		UploadStatus: content.UploadStatus,
	})
}

// GetContent returns the content view and counts one view
func (h *ContentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetContent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

// Search lists content matching the query string filters
func (h *ContentHandler) Search(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchParams(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.service.Search(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// ListPopular lists published content by popularity or recency
func (h *ContentHandler) ListPopular(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit, err := parsePaging(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.service.ListPopular(r.Context(), kbcontent.PopularParams{
		Page:   page,
		Limit:  limit,
		SortBy: q.Get("sortBy"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// FilterOptions returns the values accepted by the search filters
func (h *ContentHandler) FilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.service.FilterOptions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, opts)
}

// UpdateContent applies a partial JSON update
func (h *ContentHandler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	var req kbcontent.UpdateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	view, err := h.service.UpdateContent(r.Context(), principal, id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("Content updated", "content_id", id, "principal_id", principal.ID)
	render.JSON(w, r, view)
}

// DeleteContent removes the content and its stored file
func (h *ContentHandler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	if err := h.service.DeleteContent(r.Context(), principal, id); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("Content deleted", "content_id", id, "principal_id", principal.ID)
	render.NoContent(w, r)
}

// GetDownloadURL issues a time-limited download URL
func (h *ContentHandler) GetDownloadURL(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}

	download, err := h.service.GetDownloadURL(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, download)
}

func contentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid content id")
		return uuid.Nil, false
	}
	return id, true
}

func parseSearchParams(q url.Values) (kbcontent.SearchParams, error) {
	page, limit, err := parsePaging(q)
	if err != nil {
		return kbcontent.SearchParams{}, err
	}

	params := kbcontent.SearchParams{
		Query:       q.Get("search"),
		ContentType: kbcontent.ContentType(q.Get("contentType")),
		AuthorID:    q.Get("authorId"),
		Tags:        kbcontent.ParseTagList(q.Get("tags")),
		SortBy:      q.Get("sortBy"),
		SortOrder:   q.Get("sortOrder"),
		Page:        page,
		Limit:       limit,
	}

	if params.StartDate, err = parseDate("startDate", q.Get("startDate"), false); err != nil {
		return params, err
	}
	if params.EndDate, err = parseDate("endDate", q.Get("endDate"), true); err != nil {
		return params, err
	}
	return params, nil
}

// parsePaging reads page and limit. Absent values stay zero so the service
// applies its defaults; explicit values must be positive integers.
func parsePaging(q url.Values) (page, limit int, err error) {
	if page, err = positiveInt(q, "page"); err != nil {
		return 0, 0, err
	}
	if limit, err = positiveInt(q, "limit"); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func positiveInt(q url.Values, name string) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &kbcontent.ValidationError{Field: name, Message: fmt.Sprintf("%s must be a positive integer", name)}
	}
	return n, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func parseDate(name, raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, &kbcontent.ValidationError{Field: name, Message: fmt.Sprintf("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", name)}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
