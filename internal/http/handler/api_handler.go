package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/linksmith/linksmith/internal/app/service"
	infraprom "github.com/linksmith/linksmith/internal/infra/prometheus"
)

const adminKeyHeader = "X-Admin-Key"

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger *zap.Logger
	Links  service.LinkService
}

// APIHandler implements the management API endpoints.
type APIHandler struct {
	logger *zap.Logger
	links  service.LinkService
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger: logger,
		links:  deps.Links,
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		links := api.Group("/links")
		{
			links.Post("/", h.CreateLink)
			links.Get("/", h.ListLinks)
			links.Post("/delete", h.DeleteLinks)
		}
	}
}

// CreateLinkRequest represents the request body for creating a link.
type CreateLinkRequest struct {
	URL      string `json:"url"`
	Slug     string `json:"slug,omitempty"`
	Password string `json:"password,omitempty"`
	// ExpiresAt is an absolute expiry instant in epoch milliseconds.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
	MaxClicks int64 `json:"maxClicks,omitempty"`
	// Key is the legacy body-borne admin key; the header wins when both
	// are present.
	Key string `json:"key,omitempty"`
}

// CreateLink handles POST /api/links
func (h *APIHandler) CreateLink(c *fiber.Ctx) error {
	var req CreateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	adminKey := c.Get(adminKeyHeader)
	if adminKey == "" {
		adminKey = req.Key
	}

	rec, err := h.links.Create(h.requestContext(c), service.CreateInput{
		URL:       req.URL,
		Slug:      req.Slug,
		Password:  req.Password,
		ExpiresAt: req.ExpiresAt,
		MaxClicks: req.MaxClicks,
		AdminKey:  adminKey,
		ClientIP:  c.IP(),
	})
	if err != nil {
		h.logger.Warn("failed to create link", zap.Error(err))
		return errorJSON(c, err)
	}

	infraprom.LinksCreated.Inc()

	// The record is returned as stored: the password field carries the
	// hash, never the cleartext.
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// ListLinks handles GET /api/links
func (h *APIHandler) ListLinks(c *fiber.Ctx) error {
	limit := 0
	if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 1000 {
		limit = parsed
	}

	page, err := h.links.List(h.requestContext(c), service.ListInput{
		AdminKey: c.Get(adminKeyHeader),
		Cursor:   c.Query("cursor"),
		Limit:    limit,
	})
	if err != nil {
		h.logger.Warn("failed to list links", zap.Error(err))
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"links":         page.Links,
		"cursor":        page.Cursor,
		"list_complete": page.Complete,
		"csrfToken":     page.CSRFToken,
	})
}

// DeleteLinksRequest represents the request body for deleting links.
type DeleteLinksRequest struct {
	Slug      string   `json:"slug,omitempty"`
	Slugs     []string `json:"slugs,omitempty"`
	CSRFToken string   `json:"csrfToken"`
}

// DeleteLinks handles POST /api/links/delete for single or batch deletes.
func (h *APIHandler) DeleteLinks(c *fiber.Ctx) error {
	var req DeleteLinksRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	slugs := req.Slugs
	if len(slugs) == 0 && req.Slug != "" {
		slugs = []string{req.Slug}
	}

	err := h.links.Delete(h.requestContext(c), service.DeleteInput{
		Slugs:     slugs,
		AdminKey:  c.Get(adminKeyHeader),
		CSRFToken: req.CSRFToken,
	})
	if err != nil {
		h.logger.Warn("failed to delete links", zap.Error(err))
		return errorJSON(c, err)
	}

	infraprom.LinksDeleted.Add(float64(len(slugs)))

	return c.JSON(fiber.Map{
		"success": true,
	})
}

func (h *APIHandler) requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
