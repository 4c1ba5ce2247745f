package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formbridge/internal/instrument"
	"formbridge/internal/metadata"
)

type handlerFixture struct {
	app     *fiber.App
	repo    *memRepo
	configs *memConfigs
	metrics *instrument.Metrics
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	repo := newMemRepo()
	configs := &memConfigs{byID: map[string]*metadata.WebhookConfig{}}
	_, err := configs.Create(context.Background(), contactConfig())
	require.NoError(t, err)

	metrics := instrument.NewMetrics()
	h := NewWebhookHandler(configs, newTestProcessor(repo, &stubImporter{handle: "att-1"}), metrics)

	app := fiber.New()
	RegisterWebhookRoutes(app, h)
	return &handlerFixture{app: app, repo: repo, configs: configs, metrics: metrics}
}

func decodeEnvelope(t *testing.T, resp *http.Response) DeliveryResponse {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env DeliveryResponse
	require.NoError(t, json.Unmarshal(body, &env), "body: %s", body)
	return env
}

func TestReceive_JSONDelivery(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("POST", "/?webhook_id=wh-1",
		strings.NewReader(`{"email":"a@b.com","status":"New"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	assert.True(t, env.Success)
	data := env.Data.(map[string]any)
	assert.Equal(t, "Record created successfully", data["message"])
	postID := data["post_id"].(string)
	assert.Equal(t, "a@b.com", f.repo.fields[postID]["email"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues(instrument.OutcomeCreated)))
}

func TestReceive_URLEncodedForm(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("POST", "/?webhook_id=wh-1", strings.NewReader("email=a%40b.com&email=c%40d.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	postID := decodeEnvelope(t, resp).Data.(map[string]any)["post_id"].(string)
	assert.Equal(t, "c@d.com", f.repo.fields[postID]["email"])
}

func TestReceive_MultipartForm(t *testing.T) {
	f := newHandlerFixture(t)

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("email", "m@p.com"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/hooks/wh-1", strings.NewReader(buf.String()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	postID := decodeEnvelope(t, resp).Data.(map[string]any)["post_id"].(string)
	assert.Equal(t, "m@p.com", f.repo.fields[postID]["email"])
}

func TestReceive_RawQueryStringBody(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("POST", "/?webhook_id=wh-1", strings.NewReader("email=q%40s.com"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	postID := decodeEnvelope(t, resp).Data.(map[string]any)["post_id"].(string)
	assert.Equal(t, "q@s.com", f.repo.fields[postID]["email"])
}

func TestReceive_NullOnlyJSONCreatesRecord(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("POST", "/?webhook_id=wh-1", strings.NewReader(`{"email":null,"note":null}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	postID := decodeEnvelope(t, resp).Data.(map[string]any)["post_id"].(string)
	require.Len(t, f.repo.records, 1)
	assert.Equal(t, "Contact: Mar 5, 2024 2:07 PM", f.repo.records[postID].Title)
	assert.Empty(t, f.repo.fields[postID], "null fields are not written")
}

func TestReceive_BareWordBodyCreatesRecord(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("POST", "/?webhook_id=wh-1", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Len(t, f.repo.records, 1)
}

func TestReceive_GetIsSilentNoop(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := f.app.Test(httptest.NewRequest("GET", "/?webhook_id=wh-1", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
	assert.Empty(t, f.repo.records)
}

func TestReceive_UnknownWebhook(t *testing.T) {
	f := newHandlerFixture(t)

	for _, method := range []string{"POST", "GET"} {
		req := httptest.NewRequest(method, "/?webhook_id=nope", strings.NewReader(`{"email":"a@b.com"}`))
		resp, err := f.app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)

		env := decodeEnvelope(t, resp)
		assert.False(t, env.Success)
		assert.Equal(t, "Webhook not found", env.Data)
	}
	assert.Empty(t, f.repo.records)
}

func TestReceive_EmptyPayload(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := f.app.Test(httptest.NewRequest("POST", "/?webhook_id=wh-1", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "No data received", decodeEnvelope(t, resp).Data)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues(instrument.OutcomeRejected)))
}

func TestReceive_RecordCreationFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.createRecordErr = errors.New("insert record: connection refused")

	resp, err := f.app.Test(httptest.NewRequest("POST", "/?webhook_id=wh-1", strings.NewReader(`{"email":"a@b.com"}`)), -1)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	assert.False(t, env.Success)
	assert.Equal(t, "Failed to create record", env.Data, "internal details must not leak")
}

func TestReceive_ConfigStoreFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.configs.err = errors.New("connection reset by peer")

	resp, err := f.app.Test(httptest.NewRequest("POST", "/?webhook_id=wh-1", strings.NewReader(`{"email":"a@b.com"}`)), -1)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "Internal server error", decodeEnvelope(t, resp).Data)
}

func TestReceive_FilteredSubmission(t *testing.T) {
	f := newHandlerFixture(t)
	f.configs.byID["wh-1"].Filter = `payload.email != "spam@x.com"`

	resp, err := f.app.Test(httptest.NewRequest("POST", "/?webhook_id=wh-1", strings.NewReader(`{"email":"spam@x.com"}`)), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	assert.True(t, env.Success)
	assert.Equal(t, "Submission skipped by filter", env.Data.(map[string]any)["message"])
	assert.NotContains(t, env.Data.(map[string]any), "post_id")
	assert.Empty(t, f.repo.records)
}

func TestReceive_NoWebhookIDFallsThrough(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := f.app.Test(httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@b.com"}`)), -1)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Empty(t, f.repo.records)
}
