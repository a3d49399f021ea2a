package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ipclick/model"
)

// maxRedirects matches curl's default --max-redirs.
const maxRedirects = 30

// ErrBodyTooLarge is returned when a response exceeds the body limit.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// buildRequest turns a task into an *http.Request. defaults are the profile
// headers applied where the task does not set the same header.
func buildRequest(ctx context.Context, t *model.Task, defaults [][2]string, userAgent string) (*http.Request, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(t.Params) > 0 {
		q := u.Query()
		for k, vs := range t.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case t.Data != nil:
		body = bytes.NewReader(t.Data)
	case t.JSON != nil:
		b, err := jsonBody(t.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, t.Method.String(), u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for _, kv := range defaults {
		req.Header.Set(kv[0], kv[1])
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range t.Headers {
		if http.CanonicalHeaderKey(k) == "Host" {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}
	for name, value := range t.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req, nil
}

// jsonBody passes pre-encoded JSON through untouched.
func jsonBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json body: %w", err)
	}
	return b, nil
}

// newClient wraps a shared transport with the per-task redirect policy.
func newClient(rt http.RoundTripper, allowRedirects bool) *http.Client {
	return &http.Client{
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !allowRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// do sends req and normalizes the result. HTTP error statuses are returned
// as responses; only transport problems produce an error.
func do(client *http.Client, req *http.Request, maxBody int64) (*model.Response, error) {
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := readLimited(resp.Body, maxBody)
	if err != nil {
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	content, err := decodeBody(resp.Header.Get("Content-Encoding"), raw, maxBody)
	if err != nil {
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}

	headers := model.FlattenHeaders(resp.Header)
	if resp.Header.Get("Content-Encoding") != "" {
		// Content is already decoded.
		delete(headers, "Content-Encoding")
		headers["Content-Length"] = strconv.Itoa(len(content))
	}

	return &model.Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Content:    content,
		Headers:    headers,
		Elapsed:    time.Since(start),
		Raw:        resp,
	}, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return b, nil
}
