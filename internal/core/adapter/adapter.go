package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ipclick/model"
)

// Adapter executes tasks with one HTTP engine.
//
// Execute returns a response for every HTTP outcome, including 4xx and 5xx.
// It returns a *TransportError when the exchange itself failed and any other
// error for local setup problems. Implementations are safe for concurrent use.
type Adapter interface {
	Kind() model.AdapterKind
	Execute(ctx context.Context, req *Request) (*model.Response, error)
	Defaults() Options
	Close() error
}

// Request is a validated task plus the already resolved proxy address.
type Request struct {
	Task     *model.Task
	ProxyURL string
}

// Options are the per-adapter defaults. Task fields win over these except
// where noted.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay model.RetryDelay
	MaxBackoff time.Duration
	VerifyTLS  bool
	// Impersonate is used when a task leaves its own hint empty.
	Impersonate string
	// UserAgent overrides the profile's User-Agent unless the task sets one.
	UserAgent    string
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 64 << 20

// DefaultOptions mirror model's task defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:      model.DefaultTimeout,
		MaxRetries:   model.DefaultMaxRetries,
		RetryDelay:   model.FixedDelay(model.DefaultRetryBackoff),
		MaxBackoff:   600 * time.Second,
		VerifyTLS:    true,
		Impersonate:  model.DefaultImpersonation,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}

// ErrUnavailable matches any *UnavailableError.
var ErrUnavailable = errors.New("adapter unavailable")

// UnavailableError reports an adapter kind that is not built into this binary
// or could not be initialized.
type UnavailableError struct {
	Kind   model.AdapterKind
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("adapter %s unavailable: %s", e.Kind, e.Reason)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// TransportError wraps a network, DNS, TLS or proxy failure.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// New builds the adapter for kind. Only the fingerprint and plain engines are
// compiled in; other declared kinds report *UnavailableError.
func New(kind model.AdapterKind, opts Options) (Adapter, error) {
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	switch kind {
	case model.AdapterFingerprint:
		return newFingerprintAdapter(opts), nil
	case model.AdapterPlain:
		return newPlainAdapter(opts), nil
	case model.AdapterRequests, model.AdapterDrissionPage, model.AdapterUndetectedChrome, model.AdapterPlaywright:
		return nil, &UnavailableError{Kind: kind, Reason: "engine not built into this binary"}
	default:
		return nil, &UnavailableError{Kind: kind, Reason: "unknown adapter kind"}
	}
}

// Available lists the kinds New can build.
func Available() []model.AdapterKind {
	return []model.AdapterKind{model.AdapterFingerprint, model.AdapterPlain}
}

// effective holds the settings for one execution after merging task and
// adapter defaults.
type effective struct {
	timeout     time.Duration
	verify      bool
	userAgent   string
	maxBody     int64
	forceHTTP1  bool
	impersonate string
	redirects   bool
}

func resolve(t *model.Task, opts Options) effective {
	e := effective{
		timeout:     t.Timeout,
		verify:      t.VerifyTLS,
		userAgent:   opts.UserAgent,
		maxBody:     opts.MaxBodyBytes,
		impersonate: t.Impersonate,
		redirects:   t.AllowRedirects,
	}
	if e.timeout <= 0 {
		e.timeout = opts.Timeout
	}
	if !opts.VerifyTLS {
		// A service-wide opt-out applies to every task.
		e.verify = false
	}
	if e.impersonate == "" {
		e.impersonate = opts.Impersonate
	}
	if ua := t.Kwargs["user_agent"]; ua != "" {
		e.userAgent = ua
	}
	if mb := t.Kwargs["max_body_bytes"]; mb != "" {
		if n, err := strconv.ParseInt(mb, 10, 64); err == nil && n > 0 {
			e.maxBody = n
		}
	}
	if v, ok := t.Extensions["http2"]; ok {
		if b, err := strconv.ParseBool(v); err == nil && !b {
			e.forceHTTP1 = true
		}
	}
	return e
}
