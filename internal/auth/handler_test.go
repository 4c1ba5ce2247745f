package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formbridge/internal/config"
	"formbridge/internal/engine"
	"formbridge/internal/metadata"
	"formbridge/internal/store"
)

const testSecret = "test-secret"

func testApp(t *testing.T) *fiber.App {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "auth"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx, "admin@localhost", "changeme"))

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *engine.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return c.Status(500).JSON(engine.ErrorResponse{Error: &engine.AppError{Code: "INTERNAL_ERROR", Message: err.Error()}})
		},
	})
	RegisterAuthRoutes(app, NewAuthHandler(store.NewUserRepo(s), testSecret))
	app.Get("/admin-only", AuthMiddleware(testSecret), RequireAdmin(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"email": GetUser(c).Email})
	})
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func tokens(t *testing.T, out map[string]any) (string, string) {
	t.Helper()
	data := out["data"].(map[string]any)
	return data["access_token"].(string), data["refresh_token"].(string)
}

func TestLogin(t *testing.T) {
	app := testApp(t)

	resp, out := post(t, app, "/api/auth/login", `{"email":"admin@localhost","password":"changeme"}`)
	require.Equal(t, 200, resp.StatusCode)
	access, refresh := tokens(t, out)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)

	req := httptest.NewRequest("GET", "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestLogin_Failures(t *testing.T) {
	app := testApp(t)

	cases := map[string]string{
		"wrong password": `{"email":"admin@localhost","password":"nope"}`,
		"unknown user":   `{"email":"ghost@localhost","password":"changeme"}`,
		"missing fields": `{"email":"admin@localhost"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, out := post(t, app, "/api/auth/login", body)
			assert.Equal(t, 401, resp.StatusCode)
			assert.Equal(t, "UNAUTHORIZED", out["error"].(map[string]any)["code"])
		})
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	app := testApp(t)
	_, out := post(t, app, "/api/auth/login", `{"email":"admin@localhost","password":"changeme"}`)
	_, refresh := tokens(t, out)

	resp, out := post(t, app, "/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	require.Equal(t, 200, resp.StatusCode)
	_, rotated := tokens(t, out)
	assert.NotEqual(t, refresh, rotated)

	resp, _ = post(t, app, "/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	assert.Equal(t, 401, resp.StatusCode, "used refresh token must be rejected")
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	app := testApp(t)
	_, out := post(t, app, "/api/auth/login", `{"email":"admin@localhost","password":"changeme"}`)
	_, refresh := tokens(t, out)

	resp, out := post(t, app, "/api/auth/logout", `{"refresh_token":"`+refresh+`"}`)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "Logged out", out["message"])

	resp, _ = post(t, app, "/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestMiddleware(t *testing.T) {
	app := testApp(t)

	nonAdmin, err := GenerateAccessToken(&metadata.User{ID: "u-2", Roles: []string{"editor"}}, testSecret)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", 401},
		{"bad format", "Token abc", 401},
		{"garbage", "Bearer abc", 401},
		{"not admin", "Bearer " + nonAdmin, 403},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin-only", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
