package roboflow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"model-uploader/internal/config"
	"model-uploader/internal/core/domain"
)

// RemoteError is a failed API call. It unwraps to the domain error that
// classifies it.
type RemoteError struct {
	StatusCode int
	Message    string
	Body       string
	kind       error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("roboflow api error: %s", e.Message)
	}
	return fmt.Sprintf("roboflow api error %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.kind }

func (c *Client) statusError(status int, body []byte) *RemoteError {
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}

	e := &RemoteError{StatusCode: status, Body: string(body)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.kind = domain.ErrRemoteAuth
		e.Message = fmt.Sprintf("authentication failed for API key %s. %s", config.MaskSecret(c.apiKey), msg)
	case status == http.StatusNotFound:
		e.kind = domain.ErrRemoteNotFound
		e.Message = "resource not found. " + msg
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.kind = domain.ErrRemoteTimeout
		e.Message = fmt.Sprintf("request timed out (%d). %s", status, msg)
	case status >= 500:
		e.kind = domain.ErrRemoteUnavailable
		e.Message = fmt.Sprintf("service unavailable (%d). %s", status, msg)
	default:
		e.kind = domain.ErrRemoteRejected
		e.Message = msg
	}
	return e
}

// transportError classifies a failed round trip. The request URL carries the
// API key, so only the inner error text is kept.
func transportError(err error) *RemoteError {
	msg := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		msg = urlErr.Err.Error()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &RemoteError{Message: "request timed out: " + msg, kind: domain.ErrRemoteTimeout}
	}
	return &RemoteError{Message: "network error: " + msg, kind: domain.ErrRemoteUnavailable}
}

// errorMessage digs the diagnostic out of an error body, which may be
// {"error": "..."}, {"error": {"message": "..."}} or {"message": "..."}.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return string(body)
	}
	doc := gjson.ParseBytes(body)
	for _, path := range []string{"error.message", "error", "message"} {
		if v := doc.Get(path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
