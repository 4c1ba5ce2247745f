package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"formbridge/internal/metadata"
)

// titleTimeLayout is used when a submission carries no title value.
const titleTimeLayout = "Jan 2, 2006 3:04 PM"

// AttachmentImporter turns a remote file URL into an attachment handle. It
// returns the URL unchanged when the import fails.
type AttachmentImporter interface {
	Import(ctx context.Context, sourceURL, ownerID string) string
}

// Result describes what a delivery produced.
type Result struct {
	RecordID string   `json:"post_id,omitempty"`
	Title    string   `json:"title,omitempty"`
	Fields   []string `json:"fields,omitempty"`
	TermID   string   `json:"term_id,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
}

// Processor turns one webhook delivery into a content record.
type Processor struct {
	repo     ContentRepository
	importer AttachmentImporter
	resolver *CategoryResolver
	now      func() time.Time
}

func NewProcessor(repo ContentRepository, importer AttachmentImporter, resolver *CategoryResolver) *Processor {
	return &Processor{repo: repo, importer: importer, resolver: resolver, now: time.Now}
}

// Process decodes the request body, creates the record and populates it.
// Only failures before the record exists are returned; field and category
// problems are logged and the record is kept.
func (p *Processor) Process(ctx context.Context, cfg *metadata.WebhookConfig, body []byte, form url.Values) (*Result, error) {
	logger := zerolog.Ctx(ctx).With().Str("webhook_id", cfg.ID).Logger()

	payload := DecodePayload(body, form)
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	accept, err := EvaluateFilter(cfg, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFilterEvaluation, err)
	}
	if !accept {
		logger.Info().Msg("submission skipped by filter")
		return &Result{Skipped: true}, nil
	}

	title := p.title(cfg, payload)
	rec := &metadata.Record{
		Title:  title,
		Type:   cfg.PostType,
		Status: metadata.RecordStatusPublished,
	}
	recordID, err := p.repo.CreateRecord(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecordCreation, err)
	}
	logger = logger.With().Str("record_id", recordID).Logger()
	ctx = logger.WithContext(ctx)

	res := &Result{RecordID: recordID, Title: title}
	res.Fields = p.populateFields(ctx, cfg, payload, recordID)
	res.TermID = p.assignCategory(ctx, cfg, payload, recordID)

	logger.Info().Int("fields", len(res.Fields)).Msg("record created")
	return res, nil
}

// title is "<webhook name>: <title field value>", falling back to the
// submission time when the title field is unset or empty.
func (p *Processor) title(cfg *metadata.WebhookConfig, payload Payload) string {
	if cfg.TitleField != "" {
		if v, ok := payload.Value(cfg.TitleField); ok {
			return cfg.Name + ": " + v
		}
	}
	return cfg.Name + ": " + p.now().Format(titleTimeLayout)
}

// populateFields writes every mapped field present in the payload and
// returns the names written.
func (p *Processor) populateFields(ctx context.Context, cfg *metadata.WebhookConfig, payload Payload, recordID string) []string {
	logger := zerolog.Ctx(ctx)
	var written []string

	for _, name := range cfg.AcfFields {
		value, ok := payload.Value(name)
		if !ok {
			continue
		}

		if isAttachmentField(name, value) {
			handle := p.importer.Import(ctx, value, recordID)
			if err := p.repo.SetField(ctx, recordID, name, handle); err != nil {
				logger.Error().Err(err).Str("field", name).Msg("write attachment field")
				continue
			}
			if err := p.repo.SetMeta(ctx, recordID, name+"_url", value); err != nil {
				logger.Error().Err(err).Str("field", name).Msg("write attachment url")
			}
		} else {
			if err := p.repo.SetField(ctx, recordID, name, value); err != nil {
				logger.Error().Err(err).Str("field", name).Msg("write field")
				continue
			}
			if err := p.repo.SetMeta(ctx, recordID, name, value); err != nil {
				logger.Error().Err(err).Str("field", name).Msg("write field meta")
			}
		}
		written = append(written, name)
	}
	return written
}

// assignCategory sets at most one term on the record.
func (p *Processor) assignCategory(ctx context.Context, cfg *metadata.WebhookConfig, payload Payload, recordID string) string {
	if !cfg.HasCategoryMapping() {
		return ""
	}
	raw, ok := payload.Value(cfg.CategoryField)
	if !ok {
		return ""
	}

	logger := zerolog.Ctx(ctx)
	termID, ok, err := p.resolver.Resolve(ctx, raw, cfg.CategoryMapping, cfg.TaxonomyName)
	if err != nil {
		logger.Error().Err(err).Msg("resolve category")
		return ""
	}
	if !ok {
		logger.Debug().Str("value", raw).Msg("category value not mapped")
		return ""
	}

	taxonomy := cfg.TaxonomyName
	if taxonomy == "" {
		taxonomy = metadata.DefaultTaxonomy
	}
	if err := p.repo.SetRecordTerms(ctx, recordID, taxonomy, []string{termID}); err != nil {
		logger.Error().Err(err).Msg("assign category")
		return ""
	}
	return termID
}

// isAttachmentField applies the import heuristic: the field name mentions
// "attachment" and the value is an absolute URL.
func isAttachmentField(name, value string) bool {
	if !strings.Contains(name, "attachment") {
		return false
	}
	u, err := url.Parse(value)
	return err == nil && u.Scheme != "" && u.Host != ""
}
