// Package sdk is the client side of ipclick. A Downloader turns tasks into
// calls against a running server.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"

	"ipclick/internal/service/rpc"
	"ipclick/internal/shared/config"
	"ipclick/model"
)

// ErrServiceUnavailable wraps every failure to reach the service or to get a
// reply from it. Task-level failures are reported in the Response instead.
var ErrServiceUnavailable = errors.New("ipclick service unavailable")

// Downloader sends tasks to an ipclick server. It is safe for concurrent use.
type Downloader struct {
	cfg      Config
	target   string
	dialOpts []grpc.DialOption

	mu     sync.Mutex
	client *rpc.Client
}

type Option func(*Downloader)

// WithTarget overrides host:port from the client config. Any gRPC target
// string is accepted.
func WithTarget(target string) Option { return func(d *Downloader) { d.target = target } }

// WithDialOptions adds gRPC dial options, e.g. a custom context dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(d *Downloader) { d.dialOpts = append(d.dialOpts, opts...) }
}

// Config is the client section of the ipclick config file.
type Config = model.ClientConf

func NewDownloader(cfg Config, opts ...Option) *Downloader {
	d := &Downloader{
		cfg:    cfg,
		target: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Downloader) conn() (*rpc.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	c, err := rpc.Dial(d.target, d.dialOpts...)
	if err != nil {
		return nil, err
	}
	d.client = c
	return c, nil
}

// Download sends task as is.
func (d *Downloader) Download(ctx context.Context, task *model.Task) (*Response, error) {
	msg, err := rpc.TaskToMessage(task)
	if err != nil {
		return nil, err
	}
	c, err := d.conn()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	reply, err := c.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return newResponse(reply), nil
}

// Request builds a task from the client defaults and opts, then sends it.
// Client defaults come first so opts can override them.
func (d *Downloader) Request(ctx context.Context, method model.Method, rawURL string, opts ...model.TaskOption) (*Response, error) {
	all := make([]model.TaskOption, 0, len(opts)+3)
	all = append(all, model.WithMethod(method))
	if d.cfg.DefaultTimeout > 0 {
		all = append(all, model.WithTimeout(time.Duration(d.cfg.DefaultTimeout*float64(time.Second))))
	}
	if d.cfg.RetryAttempts >= 0 {
		all = append(all, model.WithMaxRetries(d.cfg.RetryAttempts))
	}
	all = append(all, opts...)

	task, err := model.NewTask(rawURL, all...)
	if err != nil {
		return nil, err
	}
	return d.Download(ctx, task)
}

func (d *Downloader) Get(ctx context.Context, rawURL string, opts ...model.TaskOption) (*Response, error) {
	return d.Request(ctx, model.MethodGet, rawURL, opts...)
}

func (d *Downloader) Post(ctx context.Context, rawURL string, opts ...model.TaskOption) (*Response, error) {
	return d.Request(ctx, model.MethodPost, rawURL, opts...)
}

func (d *Downloader) Put(ctx context.Context, rawURL string, opts ...model.TaskOption) (*Response, error) {
	return d.Request(ctx, model.MethodPut, rawURL, opts...)
}

func (d *Downloader) Delete(ctx context.Context, rawURL string, opts ...model.TaskOption) (*Response, error) {
	return d.Request(ctx, model.MethodDelete, rawURL, opts...)
}

func (d *Downloader) Head(ctx context.Context, rawURL string, opts ...model.TaskOption) (*Response, error) {
	return d.Request(ctx, model.MethodHead, rawURL, opts...)
}

// Close releases the connection. The Downloader redials on next use.
func (d *Downloader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

var (
	defaultOnce       sync.Once
	defaultDownloader *Downloader
	defaultErr        error
)

// Default returns a process-wide Downloader configured from the standard
// config search path.
func Default() (*Downloader, error) {
	defaultOnce.Do(func() {
		cfg, err := config.Load("")
		if err != nil {
			defaultErr = err
			return
		}
		defaultDownloader = NewDownloader(cfg.ClientConf)
	})
	return defaultDownloader, defaultErr
}

// Get sends a GET through the Default downloader.
func Get(ctx context.Context, rawURL string, opts ...model.TaskOption) (*Response, error) {
	d, err := Default()
	if err != nil {
		return nil, err
	}
	return d.Get(ctx, rawURL, opts...)
}

// Post sends a POST through the Default downloader.
func Post(ctx context.Context, rawURL string, opts ...model.TaskOption) (*Response, error) {
	d, err := Default()
	if err != nil {
		return nil, err
	}
	return d.Post(ctx, rawURL, opts...)
}
