// Package restclient talks to the helpdesk REST collaborator. Every call
// carries the bearer credential; a 401 becomes an AuthError so the caller
// can drop the session, any other failure becomes a FetchError.
package restclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/apierrors"
)

// CredentialSource yields the current bearer credential.
type CredentialSource interface {
	Credential() (string, error)
}

// Client is the collaborator client.
type Client struct {
	http   *resty.Client
	creds  CredentialSource
	logger *zap.Logger
}

type options struct {
	Logger     *zap.Logger
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.Timeout = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.HTTPClient = c }
}

// New returns a client rooted at baseURL (for example http://host/api).
func New(baseURL string, creds CredentialSource, opts ...Option) *Client {
	o := options{Logger: zap.NewNop(), Timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	var rc *resty.Client
	if o.HTTPClient != nil {
		rc = resty.NewWithClient(o.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(o.Timeout).
		SetHeader("Accept", "application/json")
	rc.JSONMarshal = json.Marshal
	rc.JSONUnmarshal = json.Unmarshal

	return &Client{http: rc, creds: creds, logger: o.Logger}
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if c.creds == nil {
		return nil, &apierrors.AuthError{Reason: "no credential source", Err: apierrors.ErrNoCredential}
	}
	token, err := c.creds.Credential()
	if err != nil {
		return nil, &apierrors.AuthError{Reason: "credential unavailable", Err: err}
	}
	return c.http.R().SetContext(ctx).SetAuthToken(token), nil
}

// check maps transport failures and non-2xx responses into the taxonomy.
func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Warn("restclient: request failed", zap.String("op", op), zap.Error(err))
		return &apierrors.FetchError{Op: op, Err: err}
	}
	switch status := resp.StatusCode(); {
	case status == http.StatusUnauthorized:
		return &apierrors.AuthError{Reason: op + " rejected credential", Err: errorBody(resp)}
	case status >= 300:
		c.logger.Warn("restclient: unexpected status",
			zap.String("op", op),
			zap.Int("status", status))
		return &apierrors.FetchError{Op: op, Status: status, Err: errorBody(resp)}
	}
	return nil
}

func errorBody(resp *resty.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if body.Error != "" {
			return fmt.Errorf("%s", body.Error)
		}
		if body.Message != "" {
			return fmt.Errorf("%s", body.Message)
		}
	}
	return fmt.Errorf("%s", http.StatusText(resp.StatusCode()))
}
