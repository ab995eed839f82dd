// Package memory provides an in-process Repository for development and tests.
// Transactions are serialized: Begin blocks until the previous transaction
// commits or rolls back, and Rollback replays an undo log.
package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
)

// Repository implements kbcontent.Repository in memory
type Repository struct {
	sem chan struct{}

	contents    map[uuid.UUID]*kbcontent.Content
	paths       map[string]uuid.UUID
	tags        map[uuid.UUID]*kbcontent.Tag
	tagsByName  map[string]uuid.UUID
	contentTags map[uuid.UUID]map[uuid.UUID]struct{}
	users       map[string]string
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		sem:         make(chan struct{}, 1),
		contents:    make(map[uuid.UUID]*kbcontent.Content),
		paths:       make(map[string]uuid.UUID),
		tags:        make(map[uuid.UUID]*kbcontent.Tag),
		tagsByName:  make(map[string]uuid.UUID),
		contentTags: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		users:       make(map[string]string),
	}
}

var _ kbcontent.Repository = (*Repository)(nil)

func (r *Repository) lock(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Repository) unlock() {
	<-r.sem
}

// PutUser records a display name for the users join.
func (r *Repository) PutUser(ctx context.Context, userID, displayName string) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.unlock()
	r.users[userID] = displayName
	return nil
}

// Begin starts a transaction, waiting for any open one to finish
func (r *Repository) Begin(ctx context.Context) (kbcontent.Tx, error) {
	if err := r.lock(ctx); err != nil {
		return nil, err
	}
	return &tx{repo: r}, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *Repository) Search(ctx context.Context, params kbcontent.SearchParams) ([]*kbcontent.ContentView, int, error) {
	if err := r.lock(ctx); err != nil {
		return nil, 0, err
	}
	defer r.unlock()

	terms := kbcontent.SearchTerms(params.Query)
	var matches []*kbcontent.ContentView
	for _, c := range r.contents {
		if !r.matchesFilters(c, params) {
			continue
		}
		score, ok := relevance(c, terms)
		if !ok {
			continue
		}
		v := r.view(c)
		v.Relevance = score
		matches = append(matches, v)
	}

	desc := params.SortOrder != kbcontent.SortAsc
	sortViews(matches, desc, func(a, b *kbcontent.ContentView) int {
		switch params.SortBy {
		case kbcontent.SortByRelevance:
			return compareFloat(a.Relevance, b.Relevance)
		case kbcontent.SortByPopularity:
			return compareInt(a.ViewCount+a.DownloadCount, b.ViewCount+b.DownloadCount)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	})
	return page(matches, params.Offset(), params.Limit), len(matches), nil
}

func (r *Repository) ListPopular(ctx context.Context, params kbcontent.PopularParams) ([]*kbcontent.ContentView, int, error) {
	if err := r.lock(ctx); err != nil {
		return nil, 0, err
	}
	defer r.unlock()

	var matches []*kbcontent.ContentView
	for _, c := range r.contents {
		if c.UploadStatus == kbcontent.UploadStatusCompleted {
			matches = append(matches, r.view(c))
		}
	}

	sortViews(matches, true, func(a, b *kbcontent.ContentView) int {
		if params.SortBy == kbcontent.SortByPopularity {
			if c := compareInt(a.ViewCount, b.ViewCount); c != 0 {
				return c
			}
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return page(matches, params.Offset(), params.Limit), len(matches), nil
}

func (r *Repository) ListCompleted(ctx context.Context, after uuid.UUID, limit int) ([]*kbcontent.Content, error) {
	if err := r.lock(ctx); err != nil {
		return nil, err
	}
	defer r.unlock()

	var out []*kbcontent.Content
	for id, c := range r.contents {
		if c.UploadStatus == kbcontent.UploadStatusCompleted && bytes.Compare(id[:], after[:]) > 0 {
			out = append(out, copyContent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := r.lock(ctx); err != nil {
		return false, err
	}
	defer r.unlock()

	c, ok := r.contents[id]
	if !ok || c.UploadStatus != kbcontent.UploadStatusCompleted {
		return false, nil
	}
	c.UploadStatus = kbcontent.UploadStatusFailed
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *Repository) FilterOptions(ctx context.Context) (*kbcontent.FilterOptions, error) {
	if err := r.lock(ctx); err != nil {
		return nil, err
	}
	defer r.unlock()

	seen := make(map[string]bool)
	authors := []kbcontent.Uploader{}
	for _, c := range r.contents {
		if seen[c.UploaderID] {
			continue
		}
		seen[c.UploaderID] = true
		authors = append(authors, kbcontent.Uploader{UserID: c.UploaderID, Name: r.users[c.UploaderID]})
	}
	sort.Slice(authors, func(i, j int) bool {
		if authors[i].Name != authors[j].Name {
			return authors[i].Name < authors[j].Name
		}
		return authors[i].UserID < authors[j].UserID
	})

	tags := make([]string, 0, len(r.tagsByName))
	for name := range r.tagsByName {
		tags = append(tags, name)
	}
	sort.Strings(tags)

	return &kbcontent.FilterOptions{Authors: authors, Tags: tags}, nil
}

func (r *Repository) matchesFilters(c *kbcontent.Content, p kbcontent.SearchParams) bool {
	if p.ContentType != "" && c.ContentType != p.ContentType {
		return false
	}
	if p.AuthorID != "" && c.UploaderID != p.AuthorID {
		return false
	}
	if p.StartDate != nil && c.CreatedAt.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && c.CreatedAt.After(*p.EndDate) {
		return false
	}
	for _, name := range p.Tags {
		id, ok := r.tagsByName[name]
		if !ok {
			return false
		}
		if _, ok := r.contentTags[c.ID][id]; !ok {
			return false
		}
	}
	return true
}

// relevance requires every term to prefix-match a word of the title or
// description. Title hits weigh twice as much as description hits.
func relevance(c *kbcontent.Content, terms []string) (float64, bool) {
	if len(terms) == 0 {
		return 0, true
	}
	title := kbcontent.SearchTerms(c.Title)
	var desc []string
	if c.Description != nil {
		desc = kbcontent.SearchTerms(*c.Description)
	}

	var score float64
	for _, term := range terms {
		t, d := prefixHits(title, term), prefixHits(desc, term)
		if t+d == 0 {
			return 0, false
		}
		score += float64(2*t + d)
	}
	return score, true
}

func prefixHits(words []string, term string) int {
	n := 0
	for _, w := range words {
		if strings.HasPrefix(w, term) {
			n++
		}
	}
	return n
}

func (r *Repository) view(c *kbcontent.Content) *kbcontent.ContentView {
	tags := make([]string, 0, len(r.contentTags[c.ID]))
	for id := range r.contentTags[c.ID] {
		tags = append(tags, r.tags[id].Name)
	}
	sort.Strings(tags)

	return &kbcontent.ContentView{
		ID:            c.ID,
		Title:         c.Title,
		Description:   copyString(c.Description),
		ContentType:   c.ContentType,
		FileName:      c.FileName,
		FileSize:      c.FileSize,
		MimeType:      c.MimeType,
		ViewCount:     c.ViewCount,
		DownloadCount: c.DownloadCount,
		UploadStatus:  c.UploadStatus,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		Uploader:      kbcontent.Uploader{UserID: c.UploaderID, Name: r.users[c.UploaderID]},
		Tags:          tags,
	}
}

// sortViews orders by cmp, breaking ties by id in the same direction.
func sortViews(views []*kbcontent.ContentView, desc bool, cmp func(a, b *kbcontent.ContentView) int) {
	sort.Slice(views, func(i, j int) bool {
		c := cmp(views[i], views[j])
		if c == 0 {
			c = bytes.Compare(views[i].ID[:], views[j].ID[:])
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func page(views []*kbcontent.ContentView, offset, limit int) []*kbcontent.ContentView {
	if offset < 0 || offset >= len(views) {
		return []*kbcontent.ContentView{}
	}
	end := offset + limit
	if end > len(views) {
		end = len(views)
	}
	return views[offset:end]
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func copyContent(c *kbcontent.Content) *kbcontent.Content {
	cp := *c
	cp.Description = copyString(c.Description)
	return &cp
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
