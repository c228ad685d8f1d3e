package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"carbonease-backend/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct {
	users map[string]*domain.User
}

func (s stubAuth) Authenticate(_ context.Context, token string) (*domain.User, error) {
	if u, ok := s.users[token]; ok {
		return u, nil
	}
	return nil, &domain.UnauthenticatedError{Message: "Not authorized, token failed"}
}

func decode(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func newAuthApp() *fiber.App {
	buyer := &domain.User{ID: uuid.New(), Role: domain.RoleBuyer}
	admin := &domain.User{ID: uuid.New(), Role: domain.RoleAdmin}
	auth := stubAuth{users: map[string]*domain.User{"buyer-token": buyer, "admin-token": admin}}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/me", Protect(auth), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"role": GetUser(c).Role, "token": GetToken(c)})
	})
	app.Get("/admin", Protect(auth), Authorize(domain.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/optional", OptionalAuth(auth), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"authed": GetUser(c) != nil})
	})
	return app
}

func TestProtect(t *testing.T) {
	app := newAuthApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	out := decode(t, resp.Body)
	assert.Equal(t, false, out["success"])

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer buyer-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	out = decode(t, resp.Body)
	assert.Equal(t, "buyer", out["role"])
	assert.Equal(t, "buyer-token", out["token"])

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Cookie", "token=buyer-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthorize(t *testing.T) {
	app := newAuthApp()

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer buyer-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	out := decode(t, resp.Body)
	assert.Equal(t, "User role buyer is not authorized to access this route", out["message"])

	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestOptionalAuth(t *testing.T) {
	app := newAuthApp()
	req := httptest.NewRequest("GET", "/optional", nil)
	req.Header.Set("Authorization", "Bearer bad")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, resp.Body)["authed"])
}

func TestErrorHandler_MapsDomainErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/v", func(c *fiber.Ctx) error {
		return domain.NewValidationError("Validation failed").Add("quantity", "Quantity must be at least 1")
	})
	app.Get("/nf", func(c *fiber.Ctx) error { return &domain.NotFoundError{Resource: "Transaction"} })
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("db exploded") })

	resp, err := app.Test(httptest.NewRequest("GET", "/v", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	out := decode(t, resp.Body)
	assert.Equal(t, "Validation failed", out["message"])
	assert.Len(t, out["errors"], 1)

	resp, err = app.Test(httptest.NewRequest("GET", "/nf", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Transaction not found", decode(t, resp.Body)["message"])

	resp, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal Server Error", decode(t, resp.Body)["message"])
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{ClientURL: "https://app.carbonease.com/"}))
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Origin", "https://app.carbonease.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://app.carbonease.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("OPTIONS", "/x", nil)
	req.Header.Set("Origin", "https://app.carbonease.com")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	req = httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestHealthMarker_CountsAndLogsErrors(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(Tracing(), HealthMarker(rdb))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/fail", func(c *fiber.Ctx) error { return errors.New("boom") })
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for _, p := range []string{"/ok", "/fail", "/health"} {
		resp, err := app.Test(httptest.NewRequest("GET", p, nil))
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))
	}
	ctx := context.Background()
	total, _ := rdb.Get(ctx, KeyReqTotal).Int()
	failed, _ := rdb.Get(ctx, KeyReqErrors).Int()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, failed)
	entries, _ := rdb.LRange(ctx, KeyErrorLog, 0, -1).Result()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], `"message":"boom"`)
}

func TestTracing_KeepsInboundUUID(t *testing.T) {
	app := fiber.New()
	app.Use(Tracing())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetTraceID(c)) })

	inbound := uuid.New().String()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-Id", inbound)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, inbound, resp.Header.Get("X-Trace-Id"))
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, inbound, string(b))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-Id", "not-a-uuid")
	resp, err = app.Test(req)
	require.NoError(t, err)
	got := resp.Header.Get("X-Trace-Id")
	assert.NotEqual(t, "not-a-uuid", got)
	_, err = uuid.Parse(got)
	assert.NoError(t, err)
}

func TestRouteLogger_LogsStatusAndUser(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	user := &domain.User{ID: uuid.New(), Role: domain.RoleBuyer}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(Tracing(), RouteLogger())
	app.Get("/ok", func(c *fiber.Ctx) error {
		c.Locals("user", user)
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return &domain.NotFoundError{Resource: "Credit"}
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	traceID := resp.Header.Get("X-Trace-Id")

	resp, err = app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var miss, ok map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &miss))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ok))

	assert.Equal(t, "warn", miss["level"])
	assert.Equal(t, float64(404), miss["status"])
	assert.Equal(t, traceID, miss["trace_id"])
	assert.Equal(t, "/missing", miss["path"])
	assert.NotContains(t, miss, "user_id")

	assert.Equal(t, "info", ok["level"])
	assert.Equal(t, float64(200), ok["status"])
	assert.Equal(t, user.ID.String(), ok["user_id"])
}
