package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/service"
)

const (
	headerTenantID = "X-Tenant-ID"
	headerUserID   = "X-User-ID"

	localsRequestContext = "request_context"
)

// errorResponse is the JSON body of every non-2xx API response
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// tenantContext resolves the caller's tenant and user from the gateway
// headers. Requests without a tenant are rejected before any handler runs.
func (s *Server) tenantContext(c *fiber.Ctx) error {
	tenantID := strings.TrimSpace(c.Get(headerTenantID))
	if tenantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error:   "validation_error",
			Message: "missing " + headerTenantID + " header",
			Field:   "tenant_id",
		})
	}
	c.Locals(localsRequestContext, analytics.RequestContext{
		TenantID:  tenantID,
		UserID:    strings.TrimSpace(c.Get(headerUserID)),
		RequestID: requestID(c),
	})
	return c.Next()
}

func requestContext(c *fiber.Ctx) analytics.RequestContext {
	rc, _ := c.Locals(localsRequestContext).(analytics.RequestContext)
	return rc
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if s.health != nil {
		if err := s.health.PingContext(c.UserContext()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleSummary(c *fiber.Ctx) error {
	rc := requestContext(c)
	raw, err := s.rawQuery(c, rc)
	if err != nil {
		return s.writeError(c, err)
	}
	resp, err := s.reports.Summary(c.UserContext(), rc, raw)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(resp)
}

func (s *Server) handleTimeSeries(c *fiber.Ctx) error {
	rc := requestContext(c)
	raw, err := s.rawQuery(c, rc)
	if err != nil {
		return s.writeError(c, err)
	}
	resp, err := s.reports.TimeSeries(c.UserContext(), rc, analytics.RawTimeSeriesQuery{
		RawQuery:   raw,
		Interval:   c.Query("interval"),
		Timezone:   c.Query("timezone"),
		EventTypes: queryList(c, "event_types"),
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(resp)
}

func (s *Server) handleFunnel(c *fiber.Ctx) error {
	rc := requestContext(c)
	raw, err := s.rawQuery(c, rc)
	if err != nil {
		return s.writeError(c, err)
	}
	resp, err := s.reports.Funnel(c.UserContext(), rc, service.FunnelRequest{
		RawQuery:        raw,
		Model:           c.Query("model"),
		IncludeChannels: c.QueryBool("include_channels", false),
		IncludeVariants: c.QueryBool("include_variants", false),
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(resp)
}

func (s *Server) handleABTest(c *fiber.Ctx) error {
	rc := requestContext(c)
	raw, err := s.rawQuery(c, rc)
	if err != nil {
		return s.writeError(c, err)
	}
	resp, err := s.reports.ABTest(c.UserContext(), rc, c.Params("campaignID"), raw)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(resp)
}

func (s *Server) handleCost(c *fiber.Ctx) error {
	resp, err := s.reports.CostQuota(c.UserContext(), requestContext(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(resp)
}

// rawQuery collects the common analytics parameters. When from and to are
// both absent, a range shortcut (today, 7d, 30d) fills them in the tenant's
// zone.
func (s *Server) rawQuery(c *fiber.Ctx, rc analytics.RequestContext) (analytics.RawQuery, error) {
	raw := analytics.RawQuery{
		Scope:      c.Query("scope"),
		CampaignID: c.Query("campaign_id"),
		From:       c.Query("from"),
		To:         c.Query("to"),
		Channels:   queryList(c, "channels"),
		ABGroup:    c.Query("ab_group"),
	}

	shortcut := strings.TrimSpace(c.Query("range"))
	if shortcut == "" || raw.From != "" || raw.To != "" {
		return raw, nil
	}
	from, to, err := resolveRange(shortcut, s.now().In(s.location(rc.TenantID)))
	if err != nil {
		return raw, err
	}
	raw.From = from.Format(time.RFC3339)
	raw.To = to.Format(time.RFC3339)
	return raw, nil
}

func (s *Server) location(tenantID string) *time.Location {
	if s.config == nil || s.config.Tenants == nil {
		return time.UTC
	}
	if loc := s.config.Tenants.Lookup(tenantID).Location; loc != nil {
		return loc
	}
	return time.UTC
}

// resolveRange maps a shortcut to [from, to). The end is the next minute
// boundary after now so repeated requests within a minute share a range.
func resolveRange(shortcut string, now time.Time) (time.Time, time.Time, error) {
	to := now.Truncate(time.Minute).Add(time.Minute)
	switch strings.ToLower(shortcut) {
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), to, nil
	case "7d":
		return to.AddDate(0, 0, -7), to, nil
	case "30d":
		return to.AddDate(0, 0, -30), to, nil
	default:
		return time.Time{}, time.Time{}, &analytics.ValidationError{
			Field:   "range",
			Message: "unsupported range " + shortcut + " (today, 7d or 30d)",
		}
	}
}

// queryList returns every value of a repeated query parameter. Values may
// themselves be comma-separated; the validator splits them.
func queryList(c *fiber.Ctx, key string) []string {
	var out []string
	for _, v := range c.Context().QueryArgs().PeekMulti(key) {
		out = append(out, string(v))
	}
	return out
}

// writeError maps the analytics error taxonomy onto HTTP statuses
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	var ve *analytics.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error:   "validation_error",
			Message: ve.Message,
			Field:   ve.Field,
		})
	case errors.Is(err, analytics.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{
			Error:   "not_found",
			Message: "campaign not found",
		})
	case errors.Is(err, analytics.ErrTimeout):
		return c.Status(fiber.StatusRequestTimeout).JSON(errorResponse{
			Error:   "request_timeout",
			Message: "analytics query timed out, retry later",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{
			Error:   "internal_error",
			Message: "internal server error",
		})
	}
}
