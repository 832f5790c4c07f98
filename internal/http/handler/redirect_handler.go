package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/linksmith/linksmith/internal/app/service"
	"github.com/linksmith/linksmith/internal/http/view"
	infraprom "github.com/linksmith/linksmith/internal/infra/prometheus"
)

const passwordPageCSP = "default-src 'self'; script-src 'unsafe-inline'; style-src 'unsafe-inline'; img-src data: https:; connect-src 'self'"

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger *zap.Logger
	Links  service.LinkService
}

// RedirectHandler implements the public resolution flow.
type RedirectHandler struct {
	logger *zap.Logger
	links  service.LinkService
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger: logger,
		links:  deps.Links,
	}
}

// Register wires resolution routes onto the provided router. POST exists
// solely for the password challenge form.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
	router.Get("/:slug", h.Resolve)
	router.Post("/:slug", h.Resolve)
}

// Health is a simple root endpoint so we know the service is running.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "linksmith",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Resolve handles GET/POST /:slug.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing link slug",
		})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	// Password attempts only count when submitted through the challenge
	// form; a plain lookup must never mutate state.
	var in service.ResolveInput
	if c.Method() == fiber.MethodPost {
		in.Password = c.FormValue("password")
	}

	res, err := h.links.Resolve(ctx, slug, in)
	if err != nil {
		infraprom.Resolutions.WithLabelValues(resolveErrorOutcome(err)).Inc()
		if !isResolveOutcomeErr(err) {
			h.logger.Error("failed to resolve link", zap.Error(err), zap.String("slug", slug))
		}
		return errorJSON(c, err)
	}

	switch res.Outcome {
	case service.OutcomePasswordRequired:
		infraprom.Resolutions.WithLabelValues(infraprom.OutcomePasswordRequired).Inc()
		return h.renderChallenge(c, slug, false)
	case service.OutcomePasswordIncorrect:
		infraprom.Resolutions.WithLabelValues(infraprom.OutcomePasswordIncorrect).Inc()
		return h.renderChallenge(c, slug, true)
	default:
		infraprom.Resolutions.WithLabelValues(infraprom.OutcomeRedirect).Inc()
		h.logger.Debug("redirecting short link",
			zap.String("slug", slug),
			zap.String("target", res.URL),
		)
		return c.Redirect(res.URL, fiber.StatusFound)
	}
}

func (h *RedirectHandler) renderChallenge(c *fiber.Ctx, slug string, withError bool) error {
	html, err := view.RenderPasswordPage(view.PasswordPageData{
		Slug:     slug,
		HasError: withError,
	})
	if err != nil {
		h.logger.Error("failed to render password page", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to render page",
		})
	}

	c.Set(fiber.HeaderContentSecurityPolicy, passwordPageCSP)
	return c.
		Type("html", "utf-8").
		SendString(html)
}

func isResolveOutcomeErr(err error) bool {
	return errors.Is(err, service.ErrLinkNotFound) ||
		errors.Is(err, service.ErrLinkExpired) ||
		errors.Is(err, service.ErrLinkExhausted)
}

func resolveErrorOutcome(err error) string {
	switch {
	case errors.Is(err, service.ErrLinkNotFound):
		return infraprom.OutcomeNotFound
	case errors.Is(err, service.ErrLinkExpired):
		return infraprom.OutcomeExpired
	case errors.Is(err, service.ErrLinkExhausted):
		return infraprom.OutcomeExhausted
	default:
		return infraprom.OutcomeError
	}
}
