package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
	"github.com/tendant/knowledge-content/pkg/kbcontent/presigned"
)

// BlobHandler streams objects whose signed URL was already validated by
// presigned.ValidateMiddleware.
type BlobHandler struct {
	objects kbcontent.ObjectOpener
}

// NewBlobHandler creates a handler reading from objects
func NewBlobHandler(objects kbcontent.ObjectOpener) *BlobHandler {
	return &BlobHandler{objects: objects}
}

func (h *BlobHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := presigned.ObjectKeyFromContext(r.Context())
	if key == "" {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	rc, info, err := h.objects.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, kbcontent.ErrObjectNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("Failed to open object", "key", key, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	if info.MimeType != "" {
		w.Header().Set("Content-Type", info.MimeType)
	}
	if info.FileName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.FileName}))
	}
	http.ServeContent(w, r, info.FileName, info.Modified, rc)
}
