package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"formbridge/internal/metadata"
	"formbridge/internal/store"
)

// memRepo is an in-memory ContentRepository with failure injection.
type memRepo struct {
	mu          sync.Mutex
	next        int
	records     map[string]*metadata.Record
	fields      map[string]map[string]string
	meta        map[string]map[string]string
	attachments []*metadata.Attachment
	terms       map[string]*metadata.Term
	recordTerms map[string][]string

	findAttachmentCalls int
	termCreates         int

	createRecordErr error
	createAttachErr error
	failField       map[string]bool
	// termRace makes CreateTerm store the term and then report a unique
	// violation, as if a concurrent delivery won the insert.
	termRace bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		records:     map[string]*metadata.Record{},
		fields:      map[string]map[string]string{},
		meta:        map[string]map[string]string{},
		terms:       map[string]*metadata.Term{},
		recordTerms: map[string][]string{},
		failField:   map[string]bool{},
	}
}

func (r *memRepo) id(prefix string) string {
	r.next++
	return fmt.Sprintf("%s-%d", prefix, r.next)
}

func (r *memRepo) CreateRecord(_ context.Context, rec *metadata.Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createRecordErr != nil {
		return "", r.createRecordErr
	}
	rec.ID = r.id("rec")
	cp := *rec
	r.records[rec.ID] = &cp
	r.fields[rec.ID] = map[string]string{}
	r.meta[rec.ID] = map[string]string{}
	return rec.ID, nil
}

func (r *memRepo) SetField(_ context.Context, recordID, name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failField[name] {
		return errors.New("field write refused")
	}
	r.fields[recordID][name] = value
	return nil
}

func (r *memRepo) SetMeta(_ context.Context, recordID, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta[recordID][key] = value
	return nil
}

func (r *memRepo) FindAttachmentBySourceURL(_ context.Context, sourceURL string) (*metadata.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findAttachmentCalls++
	for _, a := range r.attachments {
		if a.SourceURL == sourceURL {
			return a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) CreateAttachment(_ context.Context, att *metadata.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createAttachErr != nil {
		return r.createAttachErr
	}
	r.attachments = append(r.attachments, att)
	return nil
}

func (r *memRepo) GetAttachment(_ context.Context, id string) (*metadata.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attachments {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) ListAttachments(_ context.Context, limit int) ([]*metadata.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > len(r.attachments) {
		limit = len(r.attachments)
	}
	return r.attachments[:limit], nil
}

func (r *memRepo) FindTerm(_ context.Context, taxonomy, slug string) (*metadata.Term, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.terms[taxonomy+"/"+slug]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) CreateTerm(_ context.Context, term *metadata.Term) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := term.Taxonomy + "/" + term.Slug
	if _, exists := r.terms[key]; exists {
		return fmt.Errorf("insert term: %w", store.ErrUniqueViolation)
	}
	if term.ID == "" {
		term.ID = r.id("term")
	}
	r.terms[key] = term
	r.termCreates++
	if r.termRace {
		winner := *term
		winner.ID = "term-winner"
		r.terms[key] = &winner
		return fmt.Errorf("insert term: %w", store.ErrUniqueViolation)
	}
	return nil
}

func (r *memRepo) SetRecordTerms(_ context.Context, recordID, _ string, termIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordTerms[recordID] = append([]string(nil), termIDs...)
	return nil
}

// stubImporter records import calls and returns a fixed handle.
type stubImporter struct {
	calls  []string
	handle string
}

func (s *stubImporter) Import(_ context.Context, sourceURL, _ string) string {
	s.calls = append(s.calls, sourceURL)
	if s.handle == "" {
		return sourceURL
	}
	return s.handle
}

// memConfigs is an in-memory ConfigStore.
type memConfigs struct {
	byID map[string]*metadata.WebhookConfig
	err  error
}

func (m *memConfigs) Create(_ context.Context, cfg *metadata.WebhookConfig) (string, error) {
	cfg.Normalize()
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("wh-%d", len(m.byID)+1)
	}
	m.byID[cfg.ID] = cfg
	return cfg.ID, nil
}

func (m *memConfigs) List(_ context.Context) ([]*metadata.WebhookConfig, error) {
	out := make([]*metadata.WebhookConfig, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out, nil
}

func (m *memConfigs) Get(_ context.Context, id string) (*metadata.WebhookConfig, error) {
	if m.err != nil {
		return nil, m.err
	}
	cfg, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cfg, nil
}

func (m *memConfigs) Delete(_ context.Context, id string) error {
	if _, ok := m.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}
