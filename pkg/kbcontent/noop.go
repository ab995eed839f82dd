package kbcontent

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ContentCreated(ctx context.Context, content *Content) error {
	return nil
}

func (n *NoopEventSink) ContentUpdated(ctx context.Context, view *ContentView) error {
	return nil
}

func (n *NoopEventSink) ContentDeleted(ctx context.Context, contentID uuid.UUID) error {
	return nil
}

// LogEventSink writes lifecycle events to the default slog logger
type LogEventSink struct{}

// NewLogEventSink creates an event sink that logs every event at INFO
func NewLogEventSink() EventSink {
	return &LogEventSink{}
}

func (l *LogEventSink) ContentCreated(ctx context.Context, content *Content) error {
	slog.InfoContext(ctx, "Content created",
		"content_id", content.ID,
		"uploader_id", content.UploaderID,
		"file_path", content.FilePath,
		"file_size", content.FileSize)
	return nil
}

func (l *LogEventSink) ContentUpdated(ctx context.Context, view *ContentView) error {
	slog.InfoContext(ctx, "Content updated", "content_id", view.ID, "tags", view.Tags)
	return nil
}

func (l *LogEventSink) ContentDeleted(ctx context.Context, contentID uuid.UUID) error {
	slog.InfoContext(ctx, "Content deleted", "content_id", contentID)
	return nil
}
