package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestCORS_AllowsAdminKeyHeader(t *testing.T) {
	app := fiber.New()
	app.Use(CORS())
	app.Get("/api/links", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(fiber.MethodOptions, "/api/links", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "X-Admin-Key")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", resp.StatusCode)
	}
	allowed := resp.Header.Get("Access-Control-Allow-Headers")
	found := false
	for _, part := range strings.Split(allowed, ",") {
		if strings.TrimSpace(part) == "X-Admin-Key" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected X-Admin-Key in allowed headers, got %q", allowed)
	}
}
