package kbcontent_test

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
	repomemory "github.com/tendant/knowledge-content/pkg/kbcontent/repo/memory"
	storagememory "github.com/tendant/knowledge-content/pkg/kbcontent/storage/memory"
)

var (
	admin  = kbcontent.Principal{ID: "admin-1", Role: kbcontent.RoleAdmin}
	editor = kbcontent.Principal{ID: "editor-1", Role: kbcontent.RoleEditor}
	other  = kbcontent.Principal{ID: "editor-2", Role: kbcontent.RoleEditor}
	viewer = kbcontent.Principal{ID: "viewer-1", Role: "viewer"}
)

// faultyRepo injects failures into transactions of an in-memory repository
type faultyRepo struct {
	*repomemory.Repository
	assocErr  error
	commitErr error
}

func (r *faultyRepo) Begin(ctx context.Context) (kbcontent.Tx, error) {
	tx, err := r.Repository.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, repo: r}, nil
}

type faultyTx struct {
	kbcontent.Tx
	repo *faultyRepo
}

func (t *faultyTx) InsertTagAssociations(ctx context.Context, id uuid.UUID, tagIDs []uuid.UUID) error {
	if t.repo.assocErr != nil {
		return t.repo.assocErr
	}
	return t.Tx.InsertTagAssociations(ctx, id, tagIDs)
}

func (t *faultyTx) Commit(ctx context.Context) error {
	if t.repo.commitErr != nil {
		_ = t.Tx.Rollback(ctx)
		return t.repo.commitErr
	}
	return t.Tx.Commit(ctx)
}

// faultyStore injects failures into an in-memory blob store
type faultyStore struct {
	*storagememory.Backend
	putErr    error
	deleteErr error
	signErr   error
}

func (s *faultyStore) Put(ctx context.Context, key string, r io.Reader, p kbcontent.PutParams) (*kbcontent.PutResult, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	return s.Backend.Put(ctx, key, r, p)
}

func (s *faultyStore) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Backend.Delete(ctx, key)
}

func (s *faultyStore) Sign(ctx context.Context, key string, ttl time.Duration) (*kbcontent.SignedURL, error) {
	if s.signErr != nil {
		return nil, s.signErr
	}
	return s.Backend.Sign(ctx, key, ttl)
}

type fixture struct {
	svc   kbcontent.Service
	repo  *faultyRepo
	store *faultyStore
}

func newFixture(t *testing.T, opts ...kbcontent.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:  &faultyRepo{Repository: repomemory.New()},
		store: &faultyStore{Backend: storagememory.New()},
	}
	opts = append([]kbcontent.Option{
		kbcontent.WithRepository(f.repo),
		kbcontent.WithBlobStore(f.store),
	}, opts...)
	svc, err := kbcontent.New(opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func uploadReq(title, tags string) kbcontent.UploadRequest {
	body := "%PDF-1.4 test"
	return kbcontent.UploadRequest{
		File:     strings.NewReader(body),
		FileName: "report.pdf",
		FileSize: int64(len(body)),
		MimeType: "application/pdf",
		Title:    title,
		Tags:     tags,
	}
}

func (f *fixture) upload(t *testing.T, p kbcontent.Principal, title, tags string) *kbcontent.Content {
	t.Helper()
	c, err := f.svc.Upload(context.Background(), p, uploadReq(title, tags))
	require.NoError(t, err)
	return c
}

func (f *fixture) rowCount(t *testing.T) int {
	t.Helper()
	res, err := f.svc.Search(context.Background(), kbcontent.SearchParams{Limit: 100})
	require.NoError(t, err)
	return res.TotalResults
}

func TestNew(t *testing.T) {
	_, err := kbcontent.New()
	assert.Error(t, err)

	_, err = kbcontent.New(kbcontent.WithRepository(repomemory.New()))
	assert.Error(t, err)

	_, err = kbcontent.New(
		kbcontent.WithRepository(repomemory.New()),
		kbcontent.WithBlobStore(storagememory.New()),
		kbcontent.WithSignTTL(0),
	)
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Upload(ctx, editor, uploadReq("  Q3 Report ", "Finance, quarterly ,finance,, "))
	require.NoError(t, err)
	assert.Equal(t, "Q3 Report", c.Title)
	assert.Equal(t, kbcontent.UploadStatusCompleted, c.UploadStatus)
	assert.Equal(t, kbcontent.ContentTypeOther, c.ContentType)
	assert.Equal(t, editor.ID, c.UploaderID)
	assert.True(t, strings.HasPrefix(c.FilePath, "knowledge-content/"+c.ID.String()+"-"))

	ok, err := f.store.Exists(ctx, c.FilePath)
	require.NoError(t, err)
	assert.True(t, ok)

	view, err := f.svc.GetContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"finance", "quarterly"}, view.Tags)
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t, kbcontent.WithMaxFileSize(10))
	ctx := context.Background()

	var verr *kbcontent.ValidationError

	_, err := f.svc.Upload(ctx, viewer, uploadReq("T", ""))
	assert.ErrorIs(t, err, kbcontent.ErrForbidden)

	req := uploadReq("   ", "")
	req.FileSize = 1
	_, err = f.svc.Upload(ctx, editor, req)
	assert.ErrorAs(t, err, &verr)

	req = uploadReq(strings.Repeat("x", 256), "")
	req.FileSize = 1
	_, err = f.svc.Upload(ctx, editor, req)
	assert.ErrorAs(t, err, &verr)

	req = uploadReq("T", "")
	req.File = nil
	_, err = f.svc.Upload(ctx, editor, req)
	assert.ErrorAs(t, err, &verr)

	req = uploadReq("T", "")
	req.FileSize = 1
	req.ContentType = "Brochure"
	_, err = f.svc.Upload(ctx, editor, req)
	assert.ErrorAs(t, err, &verr)

	var tooLarge *kbcontent.PayloadTooLargeError
	_, err = f.svc.Upload(ctx, editor, uploadReq("T", ""))
	assert.ErrorAs(t, err, &tooLarge)

	assert.Equal(t, 0, f.store.Len(), "no object may be stored for rejected uploads")
	assert.Equal(t, 0, f.rowCount(t))
}

func TestUpload_CompensatesOnMetadataFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("insert associations failed")
	f.repo.assocErr = boom

	_, err := f.svc.Upload(context.Background(), editor, uploadReq("Q3 Report", "finance"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, kbcontent.ErrDependency)

	assert.Equal(t, 0, f.store.Len(), "orphaned object must be deleted")
	assert.Equal(t, 0, f.rowCount(t))
}

func TestUpload_CompensationFailureKeepsOriginalError(t *testing.T) {
	f := newFixture(t)
	commitErr := errors.New("commit failed")
	f.repo.commitErr = commitErr
	f.store.deleteErr = errors.New("storage unavailable")

	_, err := f.svc.Upload(context.Background(), editor, uploadReq("Q3 Report", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, commitErr)
	assert.NotContains(t, err.Error(), "storage unavailable")
	assert.Equal(t, 0, f.rowCount(t))
}

func TestUpload_PutFailure(t *testing.T) {
	f := newFixture(t)
	f.store.putErr = errors.New("bucket gone")

	_, err := f.svc.Upload(context.Background(), editor, uploadReq("Q3 Report", "finance"))
	var serr *kbcontent.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "put", serr.Op)
	assert.ErrorIs(t, err, kbcontent.ErrDependency)
	assert.Equal(t, 0, f.rowCount(t))
}

func TestGetContent_ViewCountMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.upload(t, editor, "Q3 Report", "")

	v1, err := f.svc.GetContent(ctx, c.ID)
	require.NoError(t, err)
	v2, err := f.svc.GetContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.ViewCount)
	assert.Equal(t, int64(2), v2.ViewCount)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GetContent(ctx, c.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := f.svc.GetContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n+3), v.ViewCount)

	_, err = f.svc.GetContent(ctx, uuid.New())
	assert.ErrorIs(t, err, kbcontent.ErrContentNotFound)
}

func TestTags_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.upload(t, editor, "A", "Finance")
	b := f.upload(t, editor, "B", " finance ,FINANCE")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Upload(ctx, editor, uploadReq("C", "finance, new tag"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	res, err := f.svc.Search(ctx, kbcontent.SearchParams{Tags: []string{"finance"}, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 12, res.TotalResults)

	res, err = f.svc.Search(ctx, kbcontent.SearchParams{Tags: []string{"New  Tag"}, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalResults)

	va, err := f.svc.GetContent(ctx, a.ID)
	require.NoError(t, err)
	vb, err := f.svc.GetContent(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, va.Tags)
	assert.Equal(t, va.Tags, vb.Tags)
}

func TestSearch_TagAND(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	both := f.upload(t, editor, "Both", "x,y")
	f.upload(t, editor, "Only X", "x")
	f.upload(t, editor, "Only Y", "y")

	res, err := f.svc.Search(ctx, kbcontent.SearchParams{Tags: []string{"x", "y"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalResults)
	assert.Equal(t, both.ID, res.Results[0].ID)
}

func TestSearch_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var verr *kbcontent.ValidationError
	_, err := f.svc.Search(ctx, kbcontent.SearchParams{Limit: 101})
	assert.ErrorAs(t, err, &verr)
	_, err = f.svc.Search(ctx, kbcontent.SearchParams{Page: -1})
	assert.ErrorAs(t, err, &verr)
	_, err = f.svc.Search(ctx, kbcontent.SearchParams{SortBy: kbcontent.SortByRelevance})
	assert.ErrorAs(t, err, &verr)
	_, err = f.svc.Search(ctx, kbcontent.SearchParams{SortOrder: "sideways"})
	assert.ErrorAs(t, err, &verr)

	res, err := f.svc.Search(ctx, kbcontent.SearchParams{Query: "nothing"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalResults)
	assert.Equal(t, 0, res.TotalPages)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)

	for i := 0; i < 5; i++ {
		f.upload(t, editor, "Doc", "")
	}
	res, err = f.svc.Search(ctx, kbcontent.SearchParams{Limit: 2, Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalResults)
	assert.Equal(t, 3, res.TotalPages)
	assert.Len(t, res.Results, 1)
	assert.Equal(t, 3, res.Page)
	assert.Equal(t, 2, res.Limit)
}

func TestSearch_HugePage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, editor, "Doc", "")

	var verr *kbcontent.ValidationError
	assert.NotPanics(t, func() {
		_, err := f.svc.Search(ctx, kbcontent.SearchParams{Page: 92233720368547760, Limit: 100})
		assert.ErrorAs(t, err, &verr)
	})
	assert.NotPanics(t, func() {
		_, err := f.svc.ListPopular(ctx, kbcontent.PopularParams{Page: 92233720368547760, Limit: 100})
		assert.ErrorAs(t, err, &verr)
	})

	// The last page whose offset still fits is valid and empty.
	res, err := f.svc.Search(ctx, kbcontent.SearchParams{Page: math.MaxInt/100 + 1, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalResults)
	assert.Empty(t, res.Results)
}

func TestListPopular(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, editor, "A", "")
	f.upload(t, editor, "B", "")
	for i := 0; i < 3; i++ {
		_, err := f.svc.GetContent(ctx, a.ID)
		require.NoError(t, err)
	}

	res, err := f.svc.ListPopular(ctx, kbcontent.PopularParams{SortBy: kbcontent.SortByPopularity})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Limit)
	assert.Equal(t, 2, res.TotalResults)
	assert.Equal(t, a.ID, res.Results[0].ID)

	_, err = f.svc.ListPopular(ctx, kbcontent.PopularParams{Limit: 500})
	var verr *kbcontent.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestFilterOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.PutUser(ctx, "editor-1", "Erin"))
	require.NoError(t, f.repo.PutUser(ctx, "editor-2", "Bob"))

	f.upload(t, editor, "A", "Zeta, alpha")
	f.upload(t, other, "B", "alpha")
	f.upload(t, editor, "C", "")

	opts, err := f.svc.FilterOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, kbcontent.ContentTypes(), opts.ContentTypes)
	assert.Equal(t, []kbcontent.Uploader{
		{UserID: "editor-2", Name: "Bob"},
		{UserID: "editor-1", Name: "Erin"},
	}, opts.Authors)
	assert.Equal(t, []string{"alpha", "zeta"}, opts.Tags)
}

func TestCanUpload(t *testing.T) {
	f := newFixture(t, kbcontent.WithUploadRoles("publisher"))

	assert.NoError(t, f.svc.CanUpload(kbcontent.Principal{ID: "p1", Role: "publisher"}))

	err := f.svc.CanUpload(editor)
	assert.ErrorIs(t, err, kbcontent.ErrForbidden)
	var aerr *kbcontent.AccessError
	assert.ErrorAs(t, err, &aerr)
}

func TestUpdateContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.upload(t, editor, "Q3 Report", "a,b")

	t.Run("requires a field", func(t *testing.T) {
		var verr *kbcontent.ValidationError
		_, err := f.svc.UpdateContent(ctx, editor, c.ID, kbcontent.UpdateContentRequest{})
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("replace semantics", func(t *testing.T) {
		tags := []string{"c", "C "}
		v, err := f.svc.UpdateContent(ctx, editor, c.ID, kbcontent.UpdateContentRequest{Tags: &tags})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, v.Tags)

		title := "Renamed"
		v, err = f.svc.UpdateContent(ctx, editor, c.ID, kbcontent.UpdateContentRequest{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", v.Title)
		assert.Equal(t, []string{"c"}, v.Tags, "tags untouched when not supplied")

		empty := []string{}
		v, err = f.svc.UpdateContent(ctx, editor, c.ID, kbcontent.UpdateContentRequest{Tags: &empty})
		require.NoError(t, err)
		assert.Empty(t, v.Tags)
		assert.Equal(t, int64(0), v.ViewCount, "update does not count a view")
	})

	t.Run("authorization", func(t *testing.T) {
		title := "Hijacked"
		_, err := f.svc.UpdateContent(ctx, other, c.ID, kbcontent.UpdateContentRequest{Title: &title})
		assert.ErrorIs(t, err, kbcontent.ErrForbidden)

		v, err := f.svc.GetContent(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", v.Title)

		title = "By admin"
		v, err = f.svc.UpdateContent(ctx, admin, c.ID, kbcontent.UpdateContentRequest{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "By admin", v.Title)
	})

	t.Run("description clears", func(t *testing.T) {
		d := "notes"
		v, err := f.svc.UpdateContent(ctx, editor, c.ID, kbcontent.UpdateContentRequest{Description: &d})
		require.NoError(t, err)
		require.NotNil(t, v.Description)
		assert.Equal(t, "notes", *v.Description)

		d = "  "
		v, err = f.svc.UpdateContent(ctx, editor, c.ID, kbcontent.UpdateContentRequest{Description: &d})
		require.NoError(t, err)
		assert.Nil(t, v.Description)
	})

	t.Run("not found", func(t *testing.T) {
		title := "x"
		_, err := f.svc.UpdateContent(ctx, admin, uuid.New(), kbcontent.UpdateContentRequest{Title: &title})
		assert.ErrorIs(t, err, kbcontent.ErrContentNotFound)
	})
}

func TestDeleteContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.upload(t, editor, "Q3 Report", "finance")

	err := f.svc.DeleteContent(ctx, other, c.ID)
	assert.ErrorIs(t, err, kbcontent.ErrForbidden)

	f.store.deleteErr = errors.New("storage unavailable")
	err = f.svc.DeleteContent(ctx, editor, c.ID)
	var serr *kbcontent.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "delete", serr.Op)
	_, err = f.svc.GetContent(ctx, c.ID)
	require.NoError(t, err, "metadata survives a failed object delete")

	f.store.deleteErr = nil
	require.NoError(t, f.svc.DeleteContent(ctx, editor, c.ID))
	_, err = f.svc.GetContent(ctx, c.ID)
	assert.ErrorIs(t, err, kbcontent.ErrContentNotFound)
	assert.Equal(t, 0, f.store.Len())

	err = f.svc.DeleteContent(ctx, editor, c.ID)
	assert.ErrorIs(t, err, kbcontent.ErrContentNotFound)

	d := f.upload(t, editor, "Other", "")
	require.NoError(t, f.svc.DeleteContent(ctx, admin, d.ID))
}

func TestGetDownloadURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.upload(t, editor, "Q3 Report", "")

	dl, err := f.svc.GetDownloadURL(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, dl.ExpiresIn)
	assert.Contains(t, dl.URL, c.FilePath)

	f.store.signErr = errors.New("signing key missing")
	_, err = f.svc.GetDownloadURL(ctx, c.ID)
	assert.ErrorIs(t, err, kbcontent.ErrDependency)
	f.store.signErr = nil

	v, err := f.svc.GetContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.DownloadCount, "increment survives a signing failure")

	_, err = f.svc.GetDownloadURL(ctx, uuid.New())
	assert.ErrorIs(t, err, kbcontent.ErrContentNotFound)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var items []*kbcontent.Content
	for i := 0; i < 5; i++ {
		items = append(items, f.upload(t, editor, "Doc", ""))
	}
	require.NoError(t, f.store.Backend.Delete(ctx, items[1].FilePath))
	require.NoError(t, f.store.Backend.Delete(ctx, items[3].FilePath))

	report, err := f.svc.Reconcile(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Checked)
	assert.Equal(t, 2, report.MarkedFailed)

	v, err := f.svc.GetContent(ctx, items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, kbcontent.UploadStatusFailed, v.UploadStatus)

	_, err = f.svc.GetDownloadURL(ctx, items[1].ID)
	assert.ErrorIs(t, err, kbcontent.ErrContentNotFound)

	report, err = f.svc.Reconcile(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 0, report.MarkedFailed)
}
