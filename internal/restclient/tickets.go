package restclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/convert"
	"github.com/goatkit/ticketsync/internal/models"
)

// Validate checks credential against /auth/validate and returns the
// identity it belongs to. Rejection and a "valid": false body are both
// AuthErrors; network failures are TransportErrors since this runs as
// part of connecting.
func (c *Client) Validate(ctx context.Context, credential string) (models.Identity, error) {
	var body struct {
		Valid bool            `json:"valid"`
		User  models.Identity `json:"user"`
		Error string          `json:"error"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(credential).
		SetResult(&body).
		SetError(&body).
		Get("/auth/validate")
	if err != nil {
		return models.Identity{}, &apierrors.TransportError{Op: "validate credential", Err: err}
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 || resp.StatusCode() == 404 || (resp.IsSuccess() && !body.Valid) {
		reason := body.Error
		if reason == "" {
			reason = "credential rejected"
		}
		return models.Identity{}, &apierrors.AuthError{Reason: reason}
	}
	if resp.IsError() {
		return models.Identity{}, &apierrors.TransportError{
			Op:  "validate credential",
			Err: fmt.Errorf("status %d", resp.StatusCode()),
		}
	}
	return body.User, nil
}

// ListTickets fetches every ticket visible to the identity.
func (c *Client) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var tickets []models.Ticket
	resp, err := req.SetResult(&tickets).Get("/tickets")
	if err := c.check("list tickets", resp, err); err != nil {
		return nil, err
	}
	return tickets, nil
}

// GetTicket fetches a single ticket.
func (c *Client) GetTicket(ctx context.Context, id models.TicketID) (models.Ticket, error) {
	req, err := c.request(ctx)
	if err != nil {
		return models.Ticket{}, err
	}
	var t models.Ticket
	resp, err := req.SetResult(&t).Get("/tickets/" + escape(id))
	if err := c.check("get ticket", resp, err); err != nil {
		return models.Ticket{}, err
	}
	if t.ID == "" {
		t.ID = id
	}
	return t, nil
}

// ListMessages fetches the chat history of a ticket, oldest first.
func (c *Client) ListMessages(ctx context.Context, id models.TicketID) ([]models.ChatMessage, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var msgs []models.ChatMessage
	resp, err := req.SetResult(&msgs).Get("/chats/" + escape(id))
	if err := c.check("list messages", resp, err); err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].TicketID = id
	}
	return msgs, nil
}

// Accept assigns the ticket to the caller.
func (c *Client) Accept(ctx context.Context, id models.TicketID) error {
	return c.action(ctx, id, "accept", nil)
}

// Reject refuses an open ticket.
func (c *Client) Reject(ctx context.Context, id models.TicketID) error {
	return c.action(ctx, id, "reject", nil)
}

// Close closes the ticket, optionally handing it to reassignTo.
func (c *Client) Close(ctx context.Context, id models.TicketID, reason string, reassignTo models.UserID) error {
	body := map[string]any{"reason": reason}
	if reassignTo != "" {
		body["reassign_to"] = string(reassignTo)
	}
	return c.action(ctx, id, "close", body)
}

// Reassign hands an assigned ticket to target.
func (c *Client) Reassign(ctx context.Context, id models.TicketID, target models.UserID) error {
	return c.action(ctx, id, "reassign", map[string]any{"reassign_to": string(target)})
}

// Reopen reopens a closed ticket.
func (c *Client) Reopen(ctx context.Context, id models.TicketID) error {
	return c.action(ctx, id, "reopen", nil)
}

// MarkRead clears the server-side unread marker for the identity.
func (c *Client) MarkRead(ctx context.Context, id models.TicketID) error {
	return c.action(ctx, id, "read", nil)
}

// UnreadCount returns the server-side unread count for the identity.
// The collaborator answers with a bare number; {"unread": n} and
// {"count": n} are accepted too.
func (c *Client) UnreadCount(ctx context.Context, id models.TicketID) (int, error) {
	req, err := c.request(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := req.Get("/tickets/" + escape(id) + "/unread")
	if err := c.check("unread count", resp, err); err != nil {
		return 0, err
	}
	var raw any
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return 0, &apierrors.FetchError{Op: "unread count", Err: err}
	}
	if obj, ok := raw.(map[string]any); ok {
		for _, key := range []string{"unread", "count", "unread_count"} {
			if v, found := obj[key]; found {
				raw = v
				break
			}
		}
	}
	n := convert.ToInt(raw, -1)
	if n < 0 {
		return 0, &apierrors.FetchError{Op: "unread count", Err: fmt.Errorf("unexpected body %q", resp.String())}
	}
	return n, nil
}

func (c *Client) action(ctx context.Context, id models.TicketID, verb string, body any) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Put("/tickets/" + escape(id) + "/" + verb)
	return c.check(verb+" ticket", resp, err)
}

func escape(id models.TicketID) string {
	return url.PathEscape(strings.TrimSpace(string(id)))
}
