package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// StatusTransportFailure marks a response produced after the network could
// not be reached at all.
const StatusTransportFailure = -1

// Response is the adapter-independent result of a task.
type Response struct {
	URL          string            `json:"url"`
	StatusCode   int               `json:"status_code"`
	Content      []byte            `json:"content,omitempty"`
	Headers      map[string]string `json:"headers"`
	Elapsed      time.Duration     `json:"elapsed"`
	ErrorMessage string            `json:"error,omitempty"`

	// Err and Raw never leave the process.
	Err error `json:"-"`
	Raw any   `json:"-"`

	text    string
	hasText bool
}

// ErrorResponse wraps a transport failure.
func ErrorResponse(url string, err error) *Response {
	return &Response{
		URL:          url,
		StatusCode:   StatusTransportFailure,
		Headers:      map[string]string{},
		ErrorMessage: errorText(err),
		Err:          err,
	}
}

// FaultResponse is the envelope returned when the service itself failed
// while handling a task.
func FaultResponse(url string, err error) *Response {
	return &Response{
		URL:          url,
		StatusCode:   http.StatusInternalServerError,
		Headers:      map[string]string{},
		ErrorMessage: errorText(err),
		Err:          err,
	}
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}

// OK is true for 2xx without an error.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.Err == nil && r.ErrorMessage == ""
}

func (r *Response) IsRedirect() bool    { return r.StatusCode >= 300 && r.StatusCode < 400 }
func (r *Response) IsClientError() bool { return r.StatusCode >= 400 && r.StatusCode < 500 }
func (r *Response) IsServerError() bool { return r.StatusCode >= 500 && r.StatusCode < 600 }

// Allowed reports whether the status is in codes. An empty set allows
// DefaultAllowedStatusCodes.
func (r *Response) Allowed(codes []int) bool {
	if len(codes) == 0 {
		codes = DefaultAllowedStatusCodes
	}
	for _, c := range codes {
		if c == r.StatusCode {
			return true
		}
	}
	return false
}

// Header is a case-insensitive lookup.
func (r *Response) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

// Encoding returns the declared charset, defaulting to utf-8.
func (r *Response) Encoding() string {
	if _, params, err := mime.ParseMediaType(r.ContentType()); err == nil {
		if cs := params["charset"]; cs != "" {
			return strings.ToLower(cs)
		}
	}
	return "utf-8"
}

// Text decodes Content once, using the declared charset. Undecodable
// sequences are replaced rather than failing.
func (r *Response) Text() string {
	if r.hasText {
		return r.text
	}
	r.text = decodeText(r.Content, r.ContentType())
	r.hasText = true
	return r.text
}

func decodeText(content []byte, contentType string) string {
	if len(content) == 0 {
		return ""
	}
	if contentType != "" {
		if rd, err := charset.NewReader(bytes.NewReader(content), contentType); err == nil {
			if b, err := io.ReadAll(rd); err == nil {
				return strings.ToValidUTF8(string(b), string(utf8.RuneError))
			}
		}
	}
	return strings.ToValidUTF8(string(content), string(utf8.RuneError))
}

// ErrNoContent is returned by JSON for an empty body.
var ErrNoContent = errors.New("response has no content")

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if len(r.Content) == 0 {
		return ErrNoContent
	}
	if err := json.Unmarshal(r.Content, v); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return nil
}

// StatusError is returned by RaiseForStatus.
type StatusError struct {
	URL        string
	StatusCode int
	Snippet    string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("HTTP %d error for url: %s", e.StatusCode, e.URL)
	if e.Snippet != "" {
		msg += ": " + e.Snippet
	}
	return msg
}

// RaiseForStatus returns the transport error if there was one, otherwise a
// *StatusError for any non-2xx status.
func (r *Response) RaiseForStatus() error {
	if r.Err != nil {
		return r.Err
	}
	if r.ErrorMessage != "" && r.StatusCode == StatusTransportFailure {
		return errors.New(r.ErrorMessage)
	}
	if r.OK() {
		return nil
	}
	snippet := r.Text()
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return &StatusError{URL: r.URL, StatusCode: r.StatusCode, Snippet: snippet}
}

// FlattenHeaders joins repeated header values with ", ".
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
