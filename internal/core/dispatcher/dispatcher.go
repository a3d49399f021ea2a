package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ipclick/internal/core/adapter"
	"ipclick/internal/core/retry"
	"ipclick/internal/shared/logger"
	"ipclick/internal/shared/types"
	"ipclick/model"
)

const maxRecentTargets = 20 // 定义历史记录的最大数量

// ErrClosed is reported for tasks dispatched after Cleanup.
var ErrClosed = errors.New("dispatch service is closed")

// Factory builds an adapter. adapter.New is the production factory.
type Factory func(kind model.AdapterKind, opts adapter.Options) (adapter.Adapter, error)

// Config 是 Dispatch Service 的构造参数。
type Config struct {
	DefaultAdapter model.AdapterKind
	Options        adapter.Options
	// DefaultProxy 用于 proxy=true 的任务, 可以为空。
	DefaultProxy *model.ProxyDescriptor
}

// Result 是一次派发的完整结果。
type Result struct {
	TaskUUID string
	// Adapter is the kind that actually executed the task.
	Adapter  model.AdapterKind
	Task     *model.Task
	Response *model.Response
	// Elapsed is measured by the service, independent of Response.Elapsed.
	Elapsed time.Duration
	Fault   bool
}

// Fault is the cause attached to a fault envelope.
type Fault struct {
	Err   error
	Panic any
	Stack []byte
}

func (f *Fault) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("dispatch panic: %v", f.Panic)
	}
	return fmt.Sprintf("dispatch failed: %v", f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Service resolves adapters and drives task execution through the retry
// executor. It is safe for concurrent use.
type Service struct {
	cfg       Config
	factory   Factory
	retryOpts []retry.Option
	observers []Observer
	logger    zerolog.Logger

	adapters sync.Map // model.AdapterKind -> adapter.Adapter
	group    singleflight.Group

	// storeMu orders adapter stores against Cleanup setting closed.
	storeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once

	inFlight   atomic.Int64
	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	faults     atomic.Int64
	fallbacks  atomic.Int64
	retries    atomic.Int64

	recentTargetsMutex sync.Mutex
	recentTargets      []string // 用于存储最近的目标地址
}

type Option func(*Service)

// WithFactory replaces adapter.New.
func WithFactory(f Factory) Option { return func(s *Service) { s.factory = f } }

// WithObserver adds an observer. Observers are called synchronously.
func WithObserver(o Observer) Option { return func(s *Service) { s.observers = append(s.observers, o) } }

// WithRetryOptions passes options to every retry executor the service creates.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Service) { s.retryOpts = append(s.retryOpts, opts...) }
}

// New 创建一个新的 Service 实例。适配器在第一次使用时才会创建。
func New(cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:           cfg,
		factory:       adapter.New,
		logger:        logger.WithComponent("dispatcher"),
		recentTargets: make([]string, 0, maxRecentTargets),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch executes one task. Every application-level problem, including a
// panic in an adapter, is reported through the returned Result. The error
// is non-nil only when ctx ended before a response was produced.
func (s *Service) Dispatch(ctx context.Context, task *model.Task) (res *Result, err error) {
	start := time.Now()
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.dispatched.Add(1)

	defer func() {
		if r := recover(); r != nil {
			res = s.fault(task, start, &Fault{Panic: r, Stack: debug.Stack()})
			err = nil
		}
		if res != nil {
			s.finish(res)
		}
	}()

	if task == nil {
		return s.fault(nil, start, &Fault{Err: errors.New("nil task")}), nil
	}
	if s.closed.Load() {
		return s.fault(task, start, &Fault{Err: ErrClosed}), nil
	}
	if verr := task.Validate(); verr != nil {
		return s.fault(task, start, &Fault{Err: verr}), nil
	}

	for _, o := range s.observers {
		o.TaskStarted(task)
	}
	s.recordTarget(task.URL)

	a, used, aerr := s.resolveAdapter(task.Adapter)
	if aerr != nil {
		return s.fault(task, start, &Fault{Err: aerr}), nil
	}

	proxyURL, perr := task.Proxy.Resolve(s.cfg.DefaultProxy)
	if perr != nil {
		return s.fault(task, start, &Fault{Err: perr}), nil
	}

	policy := policyFor(task, a.Defaults())
	opts := append([]retry.Option{}, s.retryOpts...)
	opts = append(opts, retry.WithOnRetry(func(ev retry.Event) {
		s.retries.Add(1)
		for _, o := range s.observers {
			o.TaskRetried(task, used, ev)
		}
	}))
	executor := retry.New(opts...)

	req := &adapter.Request{Task: task, ProxyURL: proxyURL}
	resp, rerr := executor.Do(ctx, policy, task.URL, func(ctx context.Context) (*model.Response, error) {
		return a.Execute(ctx, req)
	})
	if rerr != nil {
		s.logger.Debug().Err(rerr).Str("uuid", task.UUID).Msg("Task abandoned")
		return nil, rerr
	}

	return &Result{
		TaskUUID: task.UUID,
		Adapter:  used,
		Task:     task,
		Response: resp,
		Elapsed:  time.Since(start),
	}, nil
}

// Reject reports a task that could not be decoded or validated before
// dispatch. It is counted and observed like any other fault.
func (s *Service) Reject(task *model.Task, err error) *Result {
	s.dispatched.Add(1)
	res := s.fault(task, time.Now(), &Fault{Err: err})
	s.finish(res)
	return res
}

func (s *Service) fault(task *model.Task, start time.Time, f *Fault) *Result {
	res := &Result{
		Adapter: s.cfg.DefaultAdapter,
		Task:    task,
		Elapsed: time.Since(start),
		Fault:   true,
	}
	url := ""
	if task != nil {
		res.TaskUUID = task.UUID
		res.Adapter = task.Adapter
		url = task.URL
	}
	res.Response = model.FaultResponse(url, f)
	res.Response.Elapsed = res.Elapsed

	ev := s.logger.Error().Err(f).Str("uuid", res.TaskUUID)
	if f.Stack != nil {
		ev = ev.Bytes("stack", f.Stack)
	}
	ev.Msg("Task dispatch fault")
	return res
}

func (s *Service) finish(res *Result) {
	switch {
	case res.Fault:
		s.faults.Add(1)
	case res.Response != nil && res.Response.StatusCode == model.StatusTransportFailure:
		s.failed.Add(1)
	default:
		s.succeeded.Add(1)
	}
	for _, o := range s.observers {
		o.TaskFinished(res)
	}
}

// resolveAdapter returns the adapter for kind, or the default adapter when
// kind cannot be built.
func (s *Service) resolveAdapter(kind model.AdapterKind) (adapter.Adapter, model.AdapterKind, error) {
	a, err := s.adapterFor(kind)
	if err == nil {
		return a, kind, nil
	}
	if kind == s.cfg.DefaultAdapter || !errors.Is(err, adapter.ErrUnavailable) {
		return nil, kind, err
	}

	s.fallbacks.Add(1)
	s.logger.Warn().Err(err).
		Str("requested", kind.String()).
		Str("fallback", s.cfg.DefaultAdapter.String()).
		Msg("Adapter unavailable, falling back to default")
	for _, o := range s.observers {
		o.AdapterFallback(kind, s.cfg.DefaultAdapter, err)
	}

	a, err = s.adapterFor(s.cfg.DefaultAdapter)
	if err != nil {
		return nil, s.cfg.DefaultAdapter, fmt.Errorf("default adapter: %w", err)
	}
	return a, s.cfg.DefaultAdapter, nil
}

// adapterFor returns the cached adapter for kind, building it on first use.
// Concurrent first uses share one construction.
func (s *Service) adapterFor(kind model.AdapterKind) (adapter.Adapter, error) {
	if v, ok := s.adapters.Load(kind); ok {
		return v.(adapter.Adapter), nil
	}
	v, err, _ := s.group.Do(kind.String(), func() (interface{}, error) {
		if v, ok := s.adapters.Load(kind); ok {
			return v, nil
		}
		a, err := s.factory(kind, s.cfg.Options)
		if err != nil {
			return nil, err
		}
		s.storeMu.Lock()
		if s.closed.Load() {
			s.storeMu.Unlock()
			// Cleanup already ran; nobody else would close this one.
			a.Close()
			return nil, ErrClosed
		}
		s.adapters.Store(kind, a)
		s.storeMu.Unlock()
		s.logger.Info().Str("adapter", kind.String()).Msg("Adapter initialized")
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(adapter.Adapter), nil
}

func policyFor(t *model.Task, d adapter.Options) retry.Policy {
	p := retry.Policy{MaxRetries: t.MaxRetries, MaxBackoff: d.MaxBackoff}
	if p.MaxRetries == model.DefaultRetries {
		p.MaxRetries = d.MaxRetries
	}
	if t.RetryBackoff != nil {
		p.Delay = *t.RetryBackoff
	} else {
		p.Delay = d.RetryDelay
	}
	return p
}

// Cleanup closes every cached adapter. Safe to call more than once.
func (s *Service) Cleanup() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.storeMu.Lock()
		s.closed.Store(true)
		s.storeMu.Unlock()
		s.adapters.Range(func(k, v any) bool {
			if err := v.(adapter.Adapter).Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", k.(model.AdapterKind), err))
			}
			s.adapters.Delete(k)
			return true
		})
		s.logger.Info().Msg("Dispatch service cleaned up")
	})
	return errors.Join(errs...)
}

// ActiveAdapters lists the kinds constructed so far.
func (s *Service) ActiveAdapters() []model.AdapterKind {
	var kinds []model.AdapterKind
	s.adapters.Range(func(k, _ any) bool {
		kinds = append(kinds, k.(model.AdapterKind))
		return true
	})
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() types.DispatchStats {
	active := s.ActiveAdapters()
	names := make([]string, len(active))
	for i, k := range active {
		names[i] = k.String()
	}
	return types.DispatchStats{
		DefaultAdapter: s.cfg.DefaultAdapter.String(),
		ActiveAdapters: names,
		AdapterCount:   len(names),
		InFlight:       s.inFlight.Load(),
		Dispatched:     s.dispatched.Load(),
		Succeeded:      s.succeeded.Load(),
		Failed:         s.failed.Load(),
		Faults:         s.faults.Load(),
		Fallbacks:      s.fallbacks.Load(),
		Retries:        s.retries.Load(),
	}
}

// recordTarget 记录最近访问的目标地址, 新的在前, 不重复。
func (s *Service) recordTarget(target string) {
	s.recentTargetsMutex.Lock()
	defer s.recentTargetsMutex.Unlock()

	for i, t := range s.recentTargets {
		if t == target {
			s.recentTargets = append(s.recentTargets[:i], s.recentTargets[i+1:]...)
			break
		}
	}
	s.recentTargets = append([]string{target}, s.recentTargets...)
	if len(s.recentTargets) > maxRecentTargets {
		s.recentTargets = s.recentTargets[:maxRecentTargets]
	}
}

// RecentTargets 返回最近派发过的 URL。
func (s *Service) RecentTargets() []string {
	s.recentTargetsMutex.Lock()
	defer s.recentTargetsMutex.Unlock()
	out := make([]string, len(s.recentTargets))
	copy(out, s.recentTargets)
	return out
}
