package query

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tickpulse/internal/model"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// Journal reads back recently recorded signal events.
type Journal interface {
	Recent(ctx context.Context, symbol string, limit int) ([]model.SignalEvent, error)
}

// Handler exposes the query service over HTTP.
type Handler struct {
	tracer  trace.Tracer
	service *Service
	journal Journal
	health  http.Handler
}

// NewHandler creates a handler. journal and health may be nil, in which case
// their routes are not registered.
func NewHandler(tracer trace.Tracer, service *Service, journal Journal, health http.Handler) *Handler {
	return &Handler{
		tracer:  tracer,
		service: service,
		journal: journal,
		health:  health,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/live", h.GetLive)
	r.GET("/api/pairs", h.GetPairs)
	if h.journal != nil {
		r.GET("/api/signals/recent", h.GetRecent)
	}
	if h.health != nil {
		r.GET("/healthz", gin.WrapH(h.health))
	}
}

// CORS returns a middleware allowing the given origins. An empty list or a
// "*" entry allows every origin.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// GetLive returns the snapshot for the requested pair. Unknown pairs are
// answered with the default instrument, never an error.
func (h *Handler) GetLive(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-live")
	defer span.End()

	id := strings.TrimSpace(c.Query("pair"))
	snap := h.service.Get(id)
	span.SetAttributes(
		attribute.String("pair.requested", id),
		attribute.String("pair.resolved", snap.Symbol),
	)
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetPairs(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-pairs")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"pairs": h.service.Instruments()})
}

// GetRecent returns journaled signals for the requested pair, newest first.
func (h *Handler) GetRecent(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-recent-signals")
	defer span.End()

	inst, _ := h.service.Resolve(c.Query("pair"))
	span.SetAttributes(attribute.String("symbol", inst.Symbol))

	limit := defaultRecentLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecentLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxRecentLimit)})
			return
		}
		limit = n
	}

	events, err := h.journal.Recent(ctx, inst.Symbol, limit)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pair":    inst.Label,
		"symbol":  inst.Symbol,
		"signals": events,
	})
}
