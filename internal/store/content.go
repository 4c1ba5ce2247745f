package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"formbridge/internal/metadata"
)

// ContentRepo stores records, their custom fields and metadata, imported
// attachments and taxonomy terms.
type ContentRepo struct {
	store *Store
}

func NewContentRepo(s *Store) *ContentRepo {
	return &ContentRepo{store: s}
}

// CreateRecord inserts rec with a fresh id and returns that id.
func (r *ContentRepo) CreateRecord(ctx context.Context, rec *metadata.Record) (string, error) {
	rec.ID = GenerateUUID()
	if rec.Status == "" {
		rec.Status = metadata.RecordStatusPublished
	}

	pb := r.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO _records (id, title, type, status) VALUES (%s, %s, %s, %s)",
		pb.Add(rec.ID), pb.Add(rec.Title), pb.Add(rec.Type), pb.Add(rec.Status))
	if _, err := Exec(ctx, r.store.DB, query, pb.Params()...); err != nil {
		return "", fmt.Errorf("insert record: %w", MapError(r.store.Dialect, err))
	}
	return rec.ID, nil
}

// GetRecord returns ErrNotFound when the record does not exist.
func (r *ContentRepo) GetRecord(ctx context.Context, id string) (*metadata.Record, error) {
	pb := r.store.Dialect.NewParamBuilder()
	row, err := QueryRow(ctx, r.store.DB,
		fmt.Sprintf("SELECT id, title, type, status, created_at FROM _records WHERE id = %s", pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return &metadata.Record{
		ID:      asString(row["id"]),
		Title:   asString(row["title"]),
		Type:    asString(row["type"]),
		Status:  asString(row["status"]),
		Created: asTime(row["created_at"]),
	}, nil
}

// SetField writes a custom field value, replacing any previous value.
func (r *ContentRepo) SetField(ctx context.Context, recordID, name, value string) error {
	pb := r.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`INSERT INTO _record_fields (record_id, name, value) VALUES (%s, %s, %s)
ON CONFLICT (record_id, name) DO UPDATE SET value = excluded.value, updated_at = %s`,
		pb.Add(recordID), pb.Add(name), pb.Add(value), r.store.Dialect.NowExpr())
	if _, err := Exec(ctx, r.store.DB, query, pb.Params()...); err != nil {
		return fmt.Errorf("set field %s: %w", name, err)
	}
	return nil
}

// SetMeta writes a plain metadata entry, replacing any previous value.
func (r *ContentRepo) SetMeta(ctx context.Context, recordID, key, value string) error {
	pb := r.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`INSERT INTO _record_meta (record_id, meta_key, meta_value) VALUES (%s, %s, %s)
ON CONFLICT (record_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		pb.Add(recordID), pb.Add(key), pb.Add(value))
	if _, err := Exec(ctx, r.store.DB, query, pb.Params()...); err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Fields returns the custom fields of a record.
func (r *ContentRepo) Fields(ctx context.Context, recordID string) (map[string]string, error) {
	pb := r.store.Dialect.NewParamBuilder()
	return r.pairs(ctx,
		fmt.Sprintf("SELECT name, value FROM _record_fields WHERE record_id = %s", pb.Add(recordID)),
		pb.Params()...)
}

// Meta returns the plain metadata entries of a record.
func (r *ContentRepo) Meta(ctx context.Context, recordID string) (map[string]string, error) {
	pb := r.store.Dialect.NewParamBuilder()
	return r.pairs(ctx,
		fmt.Sprintf("SELECT meta_key, meta_value FROM _record_meta WHERE record_id = %s", pb.Add(recordID)),
		pb.Params()...)
}

// pairs scans two text columns without the time coercion QueryRows applies,
// so stored values round-trip verbatim.
func (r *ContentRepo) pairs(ctx context.Context, query string, args ...any) (map[string]string, error) {
	rows, err := r.store.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

const attachmentColumns = "id, owner_id, source_url, filename, mime_type, size, storage_path, created_at"

// FindAttachmentBySourceURL returns the oldest attachment imported from
// sourceURL, or ErrNotFound.
func (r *ContentRepo) FindAttachmentBySourceURL(ctx context.Context, sourceURL string) (*metadata.Attachment, error) {
	pb := r.store.Dialect.NewParamBuilder()
	row, err := QueryRow(ctx, r.store.DB,
		fmt.Sprintf("SELECT %s FROM _attachments WHERE source_url = %s ORDER BY created_at, id LIMIT 1",
			attachmentColumns, pb.Add(sourceURL)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return attachmentFromRow(row), nil
}

// GetAttachment returns ErrNotFound when the attachment does not exist.
func (r *ContentRepo) GetAttachment(ctx context.Context, id string) (*metadata.Attachment, error) {
	pb := r.store.Dialect.NewParamBuilder()
	row, err := QueryRow(ctx, r.store.DB,
		fmt.Sprintf("SELECT %s FROM _attachments WHERE id = %s", attachmentColumns, pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return attachmentFromRow(row), nil
}

// ListAttachments returns the most recent attachments first.
func (r *ContentRepo) ListAttachments(ctx context.Context, limit int) ([]*metadata.Attachment, error) {
	if limit <= 0 {
		limit = 50
	}
	pb := r.store.Dialect.NewParamBuilder()
	rows, err := QueryRows(ctx, r.store.DB,
		fmt.Sprintf("SELECT %s FROM _attachments ORDER BY created_at DESC, id LIMIT %s",
			attachmentColumns, pb.Add(limit)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	out := make([]*metadata.Attachment, 0, len(rows))
	for _, row := range rows {
		out = append(out, attachmentFromRow(row))
	}
	return out, nil
}

// CreateAttachment registers an already stored file. att.ID must be set.
func (r *ContentRepo) CreateAttachment(ctx context.Context, att *metadata.Attachment) error {
	var owner any
	if att.OwnerID != "" {
		owner = att.OwnerID
	}
	pb := r.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`INSERT INTO _attachments (id, owner_id, source_url, filename, mime_type, size, storage_path)
VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(att.ID), pb.Add(owner), pb.Add(att.SourceURL), pb.Add(att.Filename),
		pb.Add(att.MimeType), pb.Add(att.Size), pb.Add(att.StoragePath))
	if _, err := Exec(ctx, r.store.DB, query, pb.Params()...); err != nil {
		return fmt.Errorf("insert attachment: %w", MapError(r.store.Dialect, err))
	}
	return nil
}

func attachmentFromRow(row map[string]any) *metadata.Attachment {
	return &metadata.Attachment{
		ID:          asString(row["id"]),
		OwnerID:     asString(row["owner_id"]),
		SourceURL:   asString(row["source_url"]),
		Filename:    asString(row["filename"]),
		MimeType:    asString(row["mime_type"]),
		Size:        asInt64(row["size"]),
		StoragePath: asString(row["storage_path"]),
		Created:     asTime(row["created_at"]),
	}
}

// FindTerm returns ErrNotFound when no term has slug in taxonomy.
func (r *ContentRepo) FindTerm(ctx context.Context, taxonomy, slug string) (*metadata.Term, error) {
	pb := r.store.Dialect.NewParamBuilder()
	var t metadata.Term
	err := r.store.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, taxonomy, slug, name FROM _terms WHERE taxonomy = %s AND slug = %s",
			pb.Add(taxonomy), pb.Add(slug)),
		pb.Params()...).Scan(&t.ID, &t.Taxonomy, &t.Slug, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find term %s/%s: %w", taxonomy, slug, err)
	}
	return &t, nil
}

// CreateTerm inserts term, assigning an id when empty. A concurrent insert of
// the same (taxonomy, slug) yields ErrUniqueViolation.
func (r *ContentRepo) CreateTerm(ctx context.Context, term *metadata.Term) error {
	if term.ID == "" {
		term.ID = GenerateUUID()
	}
	pb := r.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO _terms (id, taxonomy, slug, name) VALUES (%s, %s, %s, %s)",
		pb.Add(term.ID), pb.Add(term.Taxonomy), pb.Add(term.Slug), pb.Add(term.Name))
	if _, err := Exec(ctx, r.store.DB, query, pb.Params()...); err != nil {
		return fmt.Errorf("insert term: %w", MapError(r.store.Dialect, err))
	}
	return nil
}

// SetRecordTerms replaces the record's terms in taxonomy with termIDs.
func (r *ContentRepo) SetRecordTerms(ctx context.Context, recordID, taxonomy string, termIDs []string) error {
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	pb := r.store.Dialect.NewParamBuilder()
	if _, err := Exec(ctx, tx,
		fmt.Sprintf("DELETE FROM _record_terms WHERE record_id = %s AND taxonomy = %s",
			pb.Add(recordID), pb.Add(taxonomy)),
		pb.Params()...); err != nil {
		return fmt.Errorf("clear record terms: %w", err)
	}

	for _, termID := range termIDs {
		pb := r.store.Dialect.NewParamBuilder()
		if _, err := Exec(ctx, tx,
			fmt.Sprintf("INSERT INTO _record_terms (record_id, taxonomy, term_id) VALUES (%s, %s, %s)",
				pb.Add(recordID), pb.Add(taxonomy), pb.Add(termID)),
			pb.Params()...); err != nil {
			return fmt.Errorf("assign term %s: %w", termID, MapError(r.store.Dialect, err))
		}
	}

	return tx.Commit()
}

// RecordTerms returns the term ids assigned to a record in taxonomy.
func (r *ContentRepo) RecordTerms(ctx context.Context, recordID, taxonomy string) ([]string, error) {
	pb := r.store.Dialect.NewParamBuilder()
	rows, err := QueryRows(ctx, r.store.DB,
		fmt.Sprintf("SELECT term_id FROM _record_terms WHERE record_id = %s AND taxonomy = %s ORDER BY term_id",
			pb.Add(recordID), pb.Add(taxonomy)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("record terms: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, asString(row["term_id"]))
	}
	return ids, nil
}
