package kbcontent

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

func (s *service) GetDownloadURL(ctx context.Context, id uuid.UUID) (*DownloadURL, error) {
	key, err := s.countDownload(ctx, id)
	if err != nil {
		if errors.Is(err, ErrContentNotFound) {
			downloadURLsTotal.WithLabelValues(outcomeNotFound).Inc()
		} else {
			downloadURLsTotal.WithLabelValues(outcomeFailed).Inc()
		}
		return nil, err
	}

	// The increment stays committed if signing fails.
	signed, err := s.blobStore.Sign(ctx, key, s.signTTL)
	if err != nil {
		downloadURLsTotal.WithLabelValues(outcomeFailed).Inc()
		return nil, storageErr(s.blobStore.Name(), key, "sign", err)
	}
	downloadURLsTotal.WithLabelValues(outcomeSuccess).Inc()
	return &DownloadURL{URL: signed.URL, ExpiresIn: signed.ExpiresIn}, nil
}

// countDownload increments the download counter of a Completed row and
// returns its object key.
func (s *service) countDownload(ctx context.Context, id uuid.UUID) (string, error) {
	tx, err := s.repository.Begin(ctx)
	if err != nil {
		return "", contentErr(id, "download", err)
	}
	defer rollback(ctx, tx, "download")

	own, err := tx.LockOwnership(ctx, id)
	if err != nil {
		return "", contentErr(id, "download", err)
	}
	if own.FilePath == "" || own.UploadStatus != UploadStatusCompleted {
		return "", ErrContentNotFound
	}

	if _, err := tx.IncrementDownloadCount(ctx, id); err != nil {
		return "", contentErr(id, "download", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", contentErr(id, "download", err)
	}
	return own.FilePath, nil
}
