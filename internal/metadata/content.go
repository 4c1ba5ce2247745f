package metadata

import "time"

// RecordStatusPublished is the only status webhook-created records get.
const RecordStatusPublished = "published"

// Record is a content record created for one webhook delivery.
type Record struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Type    string    `json:"type"`
	Status  string    `json:"status"`
	Created time.Time `json:"created"`
}

// Attachment is a media object imported from a remote URL.
type Attachment struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id,omitempty"`
	SourceURL   string    `json:"source_url"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"-"`
	Created     time.Time `json:"created"`
}

// Term is a taxonomy term, unique per (Taxonomy, Slug).
type Term struct {
	ID       string `json:"id"`
	Taxonomy string `json:"taxonomy"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
}
