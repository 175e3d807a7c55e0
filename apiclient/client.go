package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of an error response is read for a message.
const maxErrorBody = 64 * 1024

// StatusError is a response that arrived with a non-2xx status.
type StatusError struct {
	StatusCode int
	Msg        string // Server supplied message, if any
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Msg)
}

// TransportError means no response was received at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "no response: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Part is a file attached to a multipart request.
type Part struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Client issues JSON requests against the backend base URL.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     zerolog.Logger
}

type Option func(*Client)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New builds a client. httpClient decides which middleware (if any) wraps the calls.
func New(baseURL string, httpClient *http.Client, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[apiclient.New] baseURL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "[apiclient.New] invalid baseURL")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{baseURL: u, http: httpClient, log: zerolog.Nop()}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// HTTPClient returns the underlying client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL.String() + "/" + strings.TrimLeft(path, "/")
}

// NewRequest builds a request for path. body may be nil.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, errors.Wrap(err, "Client.NewRequest")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// DoJSON sends in (if non-nil) as JSON and decodes a 2xx response into out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "Client.DoJSON Marshal")
		}
		body = bytes.NewReader(data)
	}
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(req, out)
}

// PostMultipart sends text fields and files as multipart/form-data.
func (c *Client) PostMultipart(ctx context.Context, path string, fields [][2]string, parts []Part, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return errors.Wrap(err, "Client.PostMultipart WriteField")
		}
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.Field, p.Filename))
		if p.ContentType != "" {
			h.Set("Content-Type", p.ContentType)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			return errors.Wrap(err, "Client.PostMultipart CreatePart")
		}
		if _, err := w.Write(p.Data); err != nil {
			return errors.Wrap(err, "Client.PostMultipart Write")
		}
	}
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, "Client.PostMultipart Close")
	}

	req, err := c.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.Do(req, out)
}

// Do executes req. Transport failures come back as *TransportError, non-2xx as *StatusError.
func (c *Client) Do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, "Client.Do")
		}
		// Middleware may reject with a typed error (e.g. an expired session); keep it visible.
		return &TransportError{Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Msg: serverMessage(resp.Body)}
		c.log.Debug().Str("method", req.Method).Str("path", req.URL.Path).
			Int("status", resp.StatusCode).Str("msg", statusErr.Msg).Msg("request failed")
		return statusErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrap(err, "Client.Do Decode")
	}
	return nil
}

type meResponse struct {
	User *users.User `json:"user"`
}

// CurrentUser asks the backend who the bearer of the current token is.
func (c *Client) CurrentUser(ctx context.Context) (*users.User, error) {
	var resp meResponse
	if err := c.DoJSON(ctx, http.MethodGet, PathMe, nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, errors.New("Client.CurrentUser: response has no user")
	}
	return resp.User, nil
}

func serverMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Msg     string `json:"msg"`
		Err     string `json:"err"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	for _, m := range []string{payload.Msg, payload.Err, payload.Message} {
		if m != "" {
			return m
		}
	}
	return ""
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
