package sdk

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ipclick/internal/service/rpc"
	"ipclick/model"
)

// Response is what the service returned for one task.
type Response struct {
	RequestUUID string
	// Adapter is the kind that actually ran the task, which differs from the
	// requested kind after a fallback.
	Adapter model.AdapterKind
	// Request is the task as echoed back by the service. It is nil when the
	// echo could not be decoded.
	Request *model.Task

	URL        string
	StatusCode int
	Headers    map[string]string
	Content    []byte
	// Error is empty when the service reported no error.
	Error string
	// Elapsed is measured by the service around the whole dispatch.
	Elapsed time.Duration
	// AdapterElapsed is what the adapter reported for the final attempt.
	AdapterElapsed time.Duration

	unified *model.Response
}

func newResponse(m *rpc.ResponseMessage) *Response {
	r := &Response{
		RequestUUID:    m.RequestUUID,
		Adapter:        model.AdapterKind(m.Adapter),
		URL:            m.EffectiveURL,
		StatusCode:     int(m.StatusCode),
		Headers:        m.ResponseHeaders,
		Content:        m.Content,
		Error:          m.ErrorMessage,
		Elapsed:        time.Duration(m.ResponseTimeMs) * time.Millisecond,
		AdapterElapsed: time.Duration(m.AdapterElapsedMs) * time.Millisecond,
		unified:        rpc.ResponseFromMessage(m),
	}
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	if m.OriginalRequest != nil {
		// The echo was valid when it was sent, so errors here only mean the
		// server normalized it differently. Keep whatever was decoded.
		r.Request, _ = rpc.TaskFromMessage(m.OriginalRequest)
	}
	return r
}

// IsSuccess reports a 2xx status with no error.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.Error == ""
}

// Allowed reports whether the status is in the task's allowed set, or in
// codes when given.
func (r *Response) Allowed(codes ...int) bool {
	if len(codes) == 0 && r.Request != nil {
		codes = r.Request.AllowedStatusCodes
	}
	return r.unified.Allowed(codes)
}

// Header is a case-insensitive lookup.
func (r *Response) Header(name string) string {
	return r.unified.Header(name)
}

// Text decodes Content using the charset from Content-Type.
func (r *Response) Text() string {
	return r.unified.Text()
}

// JSON unmarshals Content into v.
func (r *Response) JSON(v any) error {
	return r.unified.JSON(v)
}

// HTML parses Content as an HTML document.
func (r *Response) HTML() (*goquery.Document, error) {
	if len(r.Content) == 0 {
		return nil, model.ErrNoContent
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(r.Text()))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", r.URL, err)
	}
	return doc, nil
}

// RaiseForStatus returns an error when the request failed or returned a
// non-2xx status.
func (r *Response) RaiseForStatus() error {
	if r.Error != "" {
		return fmt.Errorf("request %s failed: %s", r.RequestUUID, r.Error)
	}
	return r.unified.RaiseForStatus()
}

func (r *Response) String() string {
	return fmt.Sprintf("<Response [%d] %s>", r.StatusCode, r.URL)
}
