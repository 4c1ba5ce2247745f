package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"formbridge/internal/instrument"
	"formbridge/internal/metadata"
	"formbridge/internal/storage"
	"formbridge/internal/store"
)

const (
	defaultImportTimeout = 30 * time.Second
	defaultMaxImportSize = 10 << 20
	dialTimeout          = 10 * time.Second
)

// ErrPrivateAddress is returned when a download would connect to a loopback,
// private, link-local or otherwise non-public address.
var ErrPrivateAddress = errors.New("refusing to connect to non-public address")

// Importer downloads remote files referenced by submissions and registers
// them as attachments. Importing the same source URL twice yields the same
// attachment.
type Importer struct {
	repo         ContentRepository
	files        storage.FileStorage
	index        AttachmentIndex
	client       *http.Client
	timeout      time.Duration
	allowPrivate bool
	maxSize      int64
	tempDir      string
	metrics      *instrument.Metrics
}

type ImporterOption func(*Importer)

// WithAttachmentIndex adds a cache consulted before the repository.
func WithAttachmentIndex(idx AttachmentIndex) ImporterOption {
	return func(im *Importer) { im.index = idx }
}

// WithHTTPClient replaces the guarded default client entirely.
func WithHTTPClient(c *http.Client) ImporterOption {
	return func(im *Importer) { im.client = c }
}

func WithTimeout(d time.Duration) ImporterOption {
	return func(im *Importer) {
		if d > 0 {
			im.timeout = d
		}
	}
}

// WithPrivateNetworks lets downloads reach loopback and private addresses.
func WithPrivateNetworks(allow bool) ImporterOption {
	return func(im *Importer) { im.allowPrivate = allow }
}

func WithMaxSize(n int64) ImporterOption {
	return func(im *Importer) {
		if n > 0 {
			im.maxSize = n
		}
	}
}

// WithTempDir sets where downloads are staged; empty uses the OS default.
func WithTempDir(dir string) ImporterOption {
	return func(im *Importer) { im.tempDir = dir }
}

func WithImportMetrics(m *instrument.Metrics) ImporterOption {
	return func(im *Importer) { im.metrics = m }
}

func NewImporter(repo ContentRepository, files storage.FileStorage, opts ...ImporterOption) *Importer {
	im := &Importer{
		repo:    repo,
		files:   files,
		timeout: defaultImportTimeout,
		maxSize: defaultMaxImportSize,
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.client == nil {
		im.client = newDownloadClient(im.timeout, im.allowPrivate)
	}
	return im
}

// newDownloadClient checks every resolved address right before connecting,
// so redirects and DNS answers pointing inside the network are refused too.
func newDownloadClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: dialTimeout}
	if !allowPrivate {
		dialer.Control = rejectPrivateAddress
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func rejectPrivateAddress(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast())
}

// Import returns the attachment id for sourceURL, importing it on first
// sight and attaching it to ownerID. It never fails: when anything goes wrong
// the source URL itself is returned so the caller can store it verbatim.
func (im *Importer) Import(ctx context.Context, sourceURL, ownerID string) string {
	id, reused, err := im.importAttachment(ctx, sourceURL, ownerID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("url", sourceURL).Msg("attachment import failed, keeping source url")
		im.metrics.ObserveImport(instrument.ImportFailed)
		return sourceURL
	}
	if reused {
		im.metrics.ObserveImport(instrument.ImportReused)
	} else {
		im.metrics.ObserveImport(instrument.ImportImported)
	}
	return id
}

func (im *Importer) importAttachment(ctx context.Context, sourceURL, ownerID string) (string, bool, error) {
	id, found, err := im.lookup(ctx, sourceURL)
	if err != nil {
		return "", false, err
	}
	if found {
		return id, true, nil
	}

	tmp, err := im.download(ctx, sourceURL)
	if err != nil {
		return "", false, fmt.Errorf("download: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	info, err := tmp.Stat()
	if err != nil {
		return "", false, fmt.Errorf("stat download: %w", err)
	}

	mtype, err := mimetype.DetectFile(tmp.Name())
	if err != nil {
		return "", false, fmt.Errorf("detect mime type: %w", err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", false, fmt.Errorf("rewind download: %w", err)
	}

	fileID := uuid.New().String()
	filename := attachmentFilename(sourceURL, mtype.Extension())

	storagePath, err := im.files.Save(ctx, fileID, filename, tmp)
	if err != nil {
		return "", false, fmt.Errorf("save file: %w", err)
	}

	att := &metadata.Attachment{
		ID:          fileID,
		OwnerID:     ownerID,
		SourceURL:   sourceURL,
		Filename:    filename,
		MimeType:    mtype.String(),
		Size:        info.Size(),
		StoragePath: storagePath,
	}
	if err := im.repo.CreateAttachment(ctx, att); err != nil {
		// Clean up stored file on DB failure
		_ = im.files.Delete(ctx, storagePath)
		return "", false, fmt.Errorf("register attachment: %w", err)
	}

	im.remember(ctx, sourceURL, fileID)
	return fileID, false, nil
}

// lookup checks the index, then the repository, for an earlier import.
func (im *Importer) lookup(ctx context.Context, sourceURL string) (string, bool, error) {
	if im.index != nil {
		id, ok, err := im.index.Lookup(ctx, sourceURL)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("attachment index lookup failed")
		} else if ok {
			return id, true, nil
		}
	}

	att, err := im.repo.FindAttachmentBySourceURL(ctx, sourceURL)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find attachment: %w", err)
	}
	im.remember(ctx, sourceURL, att.ID)
	return att.ID, true, nil
}

func (im *Importer) remember(ctx context.Context, sourceURL, id string) {
	if im.index == nil {
		return
	}
	if err := im.index.Remember(ctx, sourceURL, id); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("attachment index update failed")
	}
}

// download streams sourceURL into a temporary file positioned at its end.
// The caller owns the file on success.
func (im *Importer) download(ctx context.Context, sourceURL string) (*os.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := im.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > im.maxSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", resp.ContentLength, im.maxSize)
	}

	tmp, err := os.CreateTemp(im.tempDir, "formbridge-import-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, im.maxSize+1))
	if err == nil && n > im.maxSize {
		err = fmt.Errorf("file too large: more than %d bytes", im.maxSize)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return tmp, nil
}

// attachmentFilename takes the last path segment of the URL, falling back to
// a generic name with the detected extension.
func attachmentFilename(sourceURL, ext string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		name := path.Base(u.Path)
		if name != "." && name != "/" && name != "" && !strings.HasPrefix(name, ".") {
			return name
		}
	}
	return "attachment" + ext
}
