package engine

import (
	"context"

	"formbridge/internal/metadata"
)

// ConfigStore persists webhook configurations. Get and Delete return
// store.ErrNotFound for unknown ids.
type ConfigStore interface {
	Create(ctx context.Context, cfg *metadata.WebhookConfig) (string, error)
	List(ctx context.Context) ([]*metadata.WebhookConfig, error)
	Get(ctx context.Context, id string) (*metadata.WebhookConfig, error)
	Delete(ctx context.Context, id string) error
}

// ContentRepository is the content store the pipeline writes into. Lookups
// return store.ErrNotFound when nothing matches.
type ContentRepository interface {
	CreateRecord(ctx context.Context, rec *metadata.Record) (string, error)
	SetField(ctx context.Context, recordID, name, value string) error
	SetMeta(ctx context.Context, recordID, key, value string) error

	FindAttachmentBySourceURL(ctx context.Context, sourceURL string) (*metadata.Attachment, error)
	CreateAttachment(ctx context.Context, att *metadata.Attachment) error

	FindTerm(ctx context.Context, taxonomy, slug string) (*metadata.Term, error)
	CreateTerm(ctx context.Context, term *metadata.Term) error
	SetRecordTerms(ctx context.Context, recordID, taxonomy string, termIDs []string) error
}

// AttachmentReader serves stored attachments back out.
type AttachmentReader interface {
	GetAttachment(ctx context.Context, id string) (*metadata.Attachment, error)
	ListAttachments(ctx context.Context, limit int) ([]*metadata.Attachment, error)
}

// AttachmentIndex is an optional fast path mapping source URLs to attachment
// ids. Misses and errors fall back to the repository.
type AttachmentIndex interface {
	Lookup(ctx context.Context, sourceURL string) (string, bool, error)
	Remember(ctx context.Context, sourceURL, attachmentID string) error
}
