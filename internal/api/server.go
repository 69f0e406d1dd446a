// Package api is the read-only local status API: health, metrics and
// snapshots of the ticket table, chat logs and notification feed.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/clock"
	"github.com/goatkit/ticketsync/internal/constants"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/notifications"
	"github.com/goatkit/ticketsync/internal/services/scheduler"
	"github.com/goatkit/ticketsync/internal/session"
)

// TicketReader is the read side of the ticket store.
type TicketReader interface {
	All() []models.Ticket
	Get(id models.TicketID) (models.Ticket, bool)
}

// MessageReader returns a ticket's chat log.
type MessageReader interface {
	Messages(ctx context.Context, id models.TicketID) ([]models.ChatMessage, error)
}

// Deps are the collaborators the handlers read from. Nil fields turn the
// matching endpoints into 503s.
type Deps struct {
	Tickets       TicketReader
	Messages      MessageReader
	Notifications notifications.Hub
	Jobs          func() []scheduler.JobStatus
	State         func() session.State
	Clock         clock.Clock
	Logger        *zap.Logger
	// ActivityWindow is how recent the last message must be for a ticket
	// to count as active.
	ActivityWindow time.Duration
}

// Handlers serves the status API.
type Handlers struct {
	deps Deps
}

// NewHandlers fills defaults into deps.
func NewHandlers(deps Deps) *Handlers {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ActivityWindow <= 0 {
		deps.ActivityWindow = constants.InactivityTimeout
	}
	return &Handlers{deps: deps}
}

// NewRouter returns a gin engine with every route registered.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())
	h.Register(r)
	return r
}

// Register mounts the routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/healthz", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/tickets", h.HandleListTickets)
	v1.GET("/tickets/:id", h.HandleGetTicket)
	v1.GET("/tickets/:id/messages", h.HandleListMessages)
	v1.GET("/notifications", h.HandleListNotifications)
	v1.GET("/jobs", h.HandleListJobs)
}

func (h *Handlers) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := h.deps.Clock.Now()
		c.Next()
		h.deps.Logger.Debug("api: request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", h.deps.Clock.Now().Sub(start)))
	}
}

// Serve runs the API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h *Handlers) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		h.deps.Logger.Info("api: listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
