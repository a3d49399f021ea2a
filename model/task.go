package model

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRetries asks the executing adapter for its own retry budget.
	DefaultRetries = -1

	DefaultTimeout       = 60 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = 2 * time.Second
	DefaultImpersonation = "chrome"
)

// DefaultAllowedStatusCodes applies when a task leaves the set empty.
var DefaultAllowedStatusCodes = []int{http.StatusOK, http.StatusNotFound}

// FilePart is accepted only so that validation can refuse it.
type FilePart struct {
	Name     string
	FileName string
	Content  []byte
}

// Task is one HTTP request plus its execution policy. Build it with NewTask;
// after construction it is treated as read-only.
type Task struct {
	UUID    string
	Adapter AdapterKind
	Method  Method
	URL     string

	Headers map[string]string
	Cookies map[string]string
	Params  url.Values

	Data  []byte
	JSON  any
	Files map[string]FilePart

	Proxy ProxySpec

	Timeout time.Duration
	// MaxRetries is the retry budget after the first attempt. DefaultRetries
	// defers to the adapter.
	MaxRetries int
	// RetryBackoff is the jitter window between attempts. nil defers to the
	// adapter; a zero window disables sleeping.
	RetryBackoff *RetryDelay

	VerifyTLS      bool
	AllowRedirects bool
	Stream         bool
	Impersonate    string
	Extensions     map[string]string

	AutomationConfig string
	AutomationScript string

	AllowedStatusCodes []int
	Kwargs             map[string]string
}

// TaskOption customizes a task inside NewTask.
type TaskOption func(*Task)

// NewTask applies the defaults, then opts, then validates.
func NewTask(rawURL string, opts ...TaskOption) (*Task, error) {
	backoff := FixedDelay(DefaultRetryBackoff)
	t := &Task{
		URL:            rawURL,
		Method:         MethodGet,
		Adapter:        AdapterFingerprint,
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryBackoff:   &backoff,
		VerifyTLS:      true,
		AllowRedirects: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.Normalize(); err != nil {
		return nil, err
	}
	return t, nil
}

// Normalize fills derived defaults and validates. It is the only place a task
// is mutated after the caller is done building it.
func (t *Task) Normalize() error {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	if t.Adapter == AdapterFingerprint && t.Impersonate == "" {
		t.Impersonate = DefaultImpersonation
	}
	if len(t.AllowedStatusCodes) == 0 {
		t.AllowedStatusCodes = append([]int(nil), DefaultAllowedStatusCodes...)
	}
	return t.Validate()
}

// Validate checks the construction invariants without changing t.
func (t *Task) Validate() error {
	if t.URL == "" {
		return &ValidationError{Field: "url", Reason: "URL is required"}
	}
	if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
		return &ValidationError{Field: "url", Reason: "URL must start with http:// or https://"}
	}
	if _, err := url.Parse(t.URL); err != nil {
		return &ValidationError{Field: "url", Reason: err.Error()}
	}
	if len(t.Files) > 0 {
		return &ValidationError{Field: "files", Reason: "files is not supported"}
	}
	bodies := 0
	if t.Data != nil {
		bodies++
	}
	if t.JSON != nil {
		bodies++
	}
	if t.Files != nil {
		bodies++
	}
	if bodies > 1 {
		return &ValidationError{Field: "body", Reason: "cannot specify multiple body types (data, json, files)"}
	}
	if !t.Method.Valid() {
		return &ValidationError{Field: "method", Reason: "unknown method " + t.Method.String()}
	}
	if t.Timeout <= 0 {
		return &ValidationError{Field: "timeout", Reason: "must be positive"}
	}
	if t.MaxRetries < DefaultRetries {
		return &ValidationError{Field: "max_retries", Reason: "must not be negative"}
	}
	if t.RetryBackoff != nil {
		if err := t.RetryBackoff.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Header looks a header up case-insensitively.
func (t *Task) Header(name string) (string, bool) {
	if v, ok := t.Headers[name]; ok {
		return v, true
	}
	for k, v := range t.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Clone returns a shallow copy with its own maps, for callers that want to
// derive a new task from an existing one.
func (t *Task) Clone() *Task {
	c := *t
	c.Headers = cloneMap(t.Headers)
	c.Cookies = cloneMap(t.Cookies)
	c.Extensions = cloneMap(t.Extensions)
	c.Kwargs = cloneMap(t.Kwargs)
	if t.Params != nil {
		c.Params = make(url.Values, len(t.Params))
		for k, v := range t.Params {
			c.Params[k] = append([]string(nil), v...)
		}
	}
	if t.RetryBackoff != nil {
		d := *t.RetryBackoff
		c.RetryBackoff = &d
	}
	c.AllowedStatusCodes = append([]int(nil), t.AllowedStatusCodes...)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func WithUUID(id string) TaskOption           { return func(t *Task) { t.UUID = id } }
func WithAdapter(k AdapterKind) TaskOption    { return func(t *Task) { t.Adapter = k } }
func WithMethod(m Method) TaskOption          { return func(t *Task) { t.Method = m } }
func WithTimeout(d time.Duration) TaskOption  { return func(t *Task) { t.Timeout = d } }
func WithMaxRetries(n int) TaskOption         { return func(t *Task) { t.MaxRetries = n } }
func WithProxy(p ProxySpec) TaskOption        { return func(t *Task) { t.Proxy = p } }
func WithVerifyTLS(v bool) TaskOption         { return func(t *Task) { t.VerifyTLS = v } }
func WithRedirects(v bool) TaskOption         { return func(t *Task) { t.AllowRedirects = v } }
func WithStream(v bool) TaskOption            { return func(t *Task) { t.Stream = v } }
func WithImpersonate(label string) TaskOption { return func(t *Task) { t.Impersonate = label } }
func WithData(b []byte) TaskOption            { return func(t *Task) { t.Data = b } }
func WithJSON(v any) TaskOption               { return func(t *Task) { t.JSON = v } }
func WithParams(p url.Values) TaskOption      { return func(t *Task) { t.Params = p } }

// WithRetryBackoff sets the delay window. Use FixedDelay(0) to retry without sleeping.
func WithRetryBackoff(d RetryDelay) TaskOption {
	return func(t *Task) { t.RetryBackoff = &d }
}

// WithAdapterDefaults clears the retry settings so the adapter's own apply.
func WithAdapterDefaults() TaskOption {
	return func(t *Task) {
		t.MaxRetries = DefaultRetries
		t.RetryBackoff = nil
	}
}

func WithHeader(name, value string) TaskOption {
	return func(t *Task) {
		if t.Headers == nil {
			t.Headers = make(map[string]string)
		}
		t.Headers[name] = value
	}
}

func WithHeaders(h map[string]string) TaskOption {
	return func(t *Task) {
		for k, v := range h {
			WithHeader(k, v)(t)
		}
	}
}

func WithCookie(name, value string) TaskOption {
	return func(t *Task) {
		if t.Cookies == nil {
			t.Cookies = make(map[string]string)
		}
		t.Cookies[name] = value
	}
}

func WithCookies(c map[string]string) TaskOption {
	return func(t *Task) {
		for k, v := range c {
			WithCookie(k, v)(t)
		}
	}
}

func WithParam(name, value string) TaskOption {
	return func(t *Task) {
		if t.Params == nil {
			t.Params = url.Values{}
		}
		t.Params.Add(name, value)
	}
}

func WithFile(field string, part FilePart) TaskOption {
	return func(t *Task) {
		if t.Files == nil {
			t.Files = make(map[string]FilePart)
		}
		t.Files[field] = part
	}
}

func WithExtension(key, value string) TaskOption {
	return func(t *Task) {
		if t.Extensions == nil {
			t.Extensions = make(map[string]string)
		}
		t.Extensions[key] = value
	}
}

func WithKwarg(key, value string) TaskOption {
	return func(t *Task) {
		if t.Kwargs == nil {
			t.Kwargs = make(map[string]string)
		}
		t.Kwargs[key] = value
	}
}

func WithAllowedStatusCodes(codes ...int) TaskOption {
	return func(t *Task) { t.AllowedStatusCodes = codes }
}

func WithAutomation(config, script string) TaskOption {
	return func(t *Task) {
		t.AutomationConfig = config
		t.AutomationScript = script
	}
}
