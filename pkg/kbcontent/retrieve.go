package kbcontent

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

func (s *service) GetContent(ctx context.Context, id uuid.UUID) (*ContentView, error) {
	tx, err := s.repository.Begin(ctx)
	if err != nil {
		return nil, contentErr(id, "get", err)
	}
	defer rollback(ctx, tx, "get")

	found, err := tx.IncrementViewCount(ctx, id)
	if err != nil {
		return nil, contentErr(id, "get", err)
	}
	if !found {
		return nil, ErrContentNotFound
	}

	view, err := tx.GetView(ctx, id)
	if err != nil {
		return nil, contentErr(id, "get", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, contentErr(id, "get", err)
	}
	contentViewsTotal.Inc()
	return view, nil
}

func (s *service) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	params, err := NormalizeSearchParams(params)
	if err != nil {
		return nil, err
	}

	items, total, err := s.repository.Search(ctx, params)
	if err != nil {
		return nil, contentErr(uuid.Nil, "search", err)
	}
	return newSearchResult(items, total, params.Page, params.Limit), nil
}

func (s *service) ListPopular(ctx context.Context, params PopularParams) (*SearchResult, error) {
	params, err := NormalizePopularParams(params)
	if err != nil {
		return nil, err
	}

	items, total, err := s.repository.ListPopular(ctx, params)
	if err != nil {
		return nil, contentErr(uuid.Nil, "popular", err)
	}
	return newSearchResult(items, total, params.Page, params.Limit), nil
}

func newSearchResult(items []*ContentView, total, page, limit int) *SearchResult {
	if items == nil {
		items = []*ContentView{}
	}
	return &SearchResult{
		Page:         page,
		Limit:        limit,
		TotalResults: total,
		TotalPages:   totalPages(total, limit),
		Results:      items,
	}
}

// NormalizeSearchParams applies defaults and rejects out-of-range values.
// Repositories receive only normalized parameters.
func NormalizeSearchParams(p SearchParams) (SearchParams, error) {
	var err error
	if p.Page, p.Limit, err = normalizePage(p.Page, p.Limit, DefaultSearchLimit); err != nil {
		return p, err
	}

	p.Query = strings.TrimSpace(p.Query)
	if p.Query != "" && len(SearchTerms(p.Query)) == 0 {
		return p, invalid("search", "search must contain at least one letter or digit")
	}

	if p.ContentType != "" && !p.ContentType.IsValid() {
		return p, invalid("contentType", "unknown content type %q", p.ContentType)
	}
	p.AuthorID = strings.TrimSpace(p.AuthorID)
	if p.StartDate != nil && p.EndDate != nil && p.StartDate.After(*p.EndDate) {
		return p, invalid("startDate", "startDate must not be after endDate")
	}
	p.Tags = CanonicalTags(p.Tags)

	switch p.SortBy {
	case "":
		if p.Query != "" {
			p.SortBy = SortByRelevance
		} else {
			p.SortBy = SortByCreatedAt
		}
	case SortByRelevance:
		if p.Query == "" {
			return p, invalid("sortBy", "sorting by relevance requires a search term")
		}
	case SortByPopularity, SortByCreatedAt:
	default:
		return p, invalid("sortBy", "sortBy must be one of relevance, popularity, createdAt")
	}

	switch strings.ToLower(p.SortOrder) {
	case "":
		p.SortOrder = SortDesc
	case SortAsc, SortDesc:
		p.SortOrder = strings.ToLower(p.SortOrder)
	default:
		return p, invalid("sortOrder", "sortOrder must be asc or desc")
	}
	return p, nil
}

func (s *service) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	opts, err := s.repository.FilterOptions(ctx)
	if err != nil {
		return nil, contentErr(uuid.Nil, "filters", err)
	}
	opts.ContentTypes = ContentTypes()
	return opts, nil
}

// NormalizePopularParams applies defaults and rejects out-of-range values.
func NormalizePopularParams(p PopularParams) (PopularParams, error) {
	var err error
	if p.Page, p.Limit, err = normalizePage(p.Page, p.Limit, DefaultPopularLimit); err != nil {
		return p, err
	}
	switch p.SortBy {
	case "", SortByCreatedAt, "recent":
		p.SortBy = SortByCreatedAt
	case SortByPopularity:
	default:
		return p, invalid("sortBy", "sortBy must be popularity or createdAt")
	}
	return p, nil
}

// normalizePage treats zero as unset.
func normalizePage(page, limit, defaultLimit int) (int, int, error) {
	if page == 0 {
		page = DefaultPage
	}
	if page < 1 {
		return 0, 0, invalid("page", "page must be a positive integer")
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 1 || limit > MaxPageLimit {
		return 0, 0, invalid("limit", "limit must be between 1 and %d", MaxPageLimit)
	}
	// The row offset must fit in an int.
	if page-1 > math.MaxInt/limit {
		return 0, 0, invalid("page", "page is too large")
	}
	return page, limit, nil
}

// SearchTerms splits a free-text query into distinct lower-cased words made
// of letters and digits, in order of first appearance.
func SearchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(terms, f) {
			terms = append(terms, f)
		}
	}
	return terms
}
