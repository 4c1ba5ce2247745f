package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"formbridge/internal/engine"
	"formbridge/internal/metadata"
	"formbridge/internal/store"
)

// UserStore is the account storage the auth endpoints need.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*metadata.User, error)
	SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, token string) (*metadata.User, error)
	DeleteRefreshToken(ctx context.Context, token string) error
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	users     UserStore
	jwtSecret string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users UserStore, jwtSecret string) *AuthHandler {
	return &AuthHandler{users: users, jwtSecret: jwtSecret}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.UserContext()

	user, err := h.users.FindByEmail(ctx, body.Email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("login lookup failed")
		}
		return engine.UnauthorizedError("Invalid email or password")
	}
	if !user.Active {
		return engine.UnauthorizedError("Account is disabled")
	}
	if !CheckPassword(body.Password, user.PasswordHash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	pair, err := h.generateTokenPair(ctx, user)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. Refresh tokens are single use.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	token, err := refreshTokenFrom(c)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	user, err := h.users.ConsumeRefreshToken(ctx, token)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("refresh lookup failed")
		}
		return engine.UnauthorizedError("Invalid refresh token")
	}
	if !user.Active {
		return engine.UnauthorizedError("Account is disabled")
	}

	pair, err := h.generateTokenPair(ctx, user)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token, err := refreshTokenFrom(c)
	if err != nil {
		return err
	}

	if err := h.users.DeleteRefreshToken(c.UserContext(), token); err != nil {
		zerolog.Ctx(c.UserContext()).Warn().Err(err).Msg("logout")
	}

	return c.JSON(fiber.Map{"message": "Logged out"})
}

// RegisterAuthRoutes registers auth routes on the given Fiber app.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/api/auth")
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
}

// --- helpers ---

func refreshTokenFrom(c *fiber.Ctx) (string, error) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return "", engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return "", engine.UnauthorizedError("Refresh token is required")
	}
	return body.RefreshToken, nil
}

func (h *AuthHandler) generateTokenPair(ctx context.Context, user *metadata.User) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(user, h.jwtSecret)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	if err := h.users.SaveRefreshToken(ctx, user.ID, refreshToken, time.Now().Add(RefreshTokenTTL)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("store refresh token")
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to store refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
