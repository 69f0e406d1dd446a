package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/chat"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/views"
)

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.deps.State != nil {
		body["session"] = h.deps.State()
	}
	if h.deps.Tickets != nil {
		body["tickets"] = len(h.deps.Tickets.All())
	}
	c.JSON(http.StatusOK, body)
}

// HandleListTickets handles GET /v1/tickets.
//
// Query parameters: status, q (search), sort (created, last_message,
// priority) and desc.
func (h *Handlers) HandleListTickets(c *gin.Context) {
	if h.deps.Tickets == nil {
		apierrors.Error(c, apierrors.CodeUnavailable)
		return
	}
	q := views.Query{
		Search: c.Query("q"),
		Sort:   views.SortKey(c.Query("sort")),
	}
	if raw := c.Query("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
			return
		}
		q.Status = st
	}
	if raw := c.Query("desc"); raw != "" {
		desc, err := strconv.ParseBool(raw)
		if err != nil {
			apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "desc must be a boolean")
			return
		}
		q.Desc = desc
	}

	all := h.deps.Tickets.All()
	tickets := views.Apply(all, q)
	c.JSON(http.StatusOK, gin.H{
		"tickets": views.Rows(tickets, h.deps.Clock.Now(), h.deps.ActivityWindow),
		"total":   len(tickets),
		"counts":  views.Counts(all),
	})
}

// HandleGetTicket handles GET /v1/tickets/:id.
func (h *Handlers) HandleGetTicket(c *gin.Context) {
	if h.deps.Tickets == nil {
		apierrors.Error(c, apierrors.CodeUnavailable)
		return
	}
	id := models.TicketID(c.Param("id"))
	t, ok := h.deps.Tickets.Get(id)
	if !ok {
		apierrors.ErrorWithMessage(c, apierrors.CodeNotFound, "ticket "+string(id)+" not found")
		return
	}
	rows := views.Rows([]models.Ticket{t}, h.deps.Clock.Now(), h.deps.ActivityWindow)
	c.JSON(http.StatusOK, rows[0])
}

// HandleListMessages handles GET /v1/tickets/:id/messages. The optional
// tz parameter names the IANA zone used to group messages by day.
func (h *Handlers) HandleListMessages(c *gin.Context) {
	if h.deps.Messages == nil {
		apierrors.Error(c, apierrors.CodeUnavailable)
		return
	}
	loc := time.UTC
	if tz := c.Query("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "unknown time zone "+tz)
			return
		}
		loc = l
	}
	id := models.TicketID(c.Param("id"))
	msgs, err := h.deps.Messages.Messages(c.Request.Context(), id)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{
		"ticket_id": id,
		"messages":  msgs,
		"days":      chat.GroupByDay(msgs, loc),
	})
}

// HandleListNotifications handles GET /v1/notifications. consume=true
// drains the feed.
func (h *Handlers) HandleListNotifications(c *gin.Context) {
	if h.deps.Notifications == nil {
		apierrors.Error(c, apierrors.CodeUnavailable)
		return
	}
	items := h.deps.Notifications.Pending()
	if c.Query("consume") == "true" {
		items = h.deps.Notifications.Consume()
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "total": len(items)})
}

// HandleListJobs handles GET /v1/jobs.
func (h *Handlers) HandleListJobs(c *gin.Context) {
	if h.deps.Jobs == nil {
		apierrors.Error(c, apierrors.CodeUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": h.deps.Jobs()})
}
