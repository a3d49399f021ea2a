package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ipclick/internal/core/adapter"
	"ipclick/internal/core/retry"
	"ipclick/model"
)

// mockAdapter runs a scripted sequence of outcomes.
type mockAdapter struct {
	kind    model.AdapterKind
	opts    adapter.Options
	execute func(ctx context.Context, req *adapter.Request) (*model.Response, error)
	calls   atomic.Int32
	closed  atomic.Int32
	lastReq atomic.Pointer[adapter.Request]
}

func (m *mockAdapter) Kind() model.AdapterKind  { return m.kind }
func (m *mockAdapter) Defaults() adapter.Options { return m.opts }

func (m *mockAdapter) Close() error {
	m.closed.Add(1)
	return nil
}

func (m *mockAdapter) Execute(ctx context.Context, req *adapter.Request) (*model.Response, error) {
	m.calls.Add(1)
	m.lastReq.Store(req)
	if m.execute != nil {
		return m.execute(ctx, req)
	}
	return &model.Response{URL: req.Task.URL, StatusCode: 200, Headers: map[string]string{}}, nil
}

// mockFactory builds mockAdapters for the kinds in available.
type mockFactory struct {
	mu        sync.Mutex
	available map[model.AdapterKind]*mockAdapter
	builds    map[model.AdapterKind]int
	delay     time.Duration
}

func newMockFactory(kinds ...model.AdapterKind) *mockFactory {
	f := &mockFactory{
		available: make(map[model.AdapterKind]*mockAdapter),
		builds:    make(map[model.AdapterKind]int),
	}
	for _, k := range kinds {
		f.available[k] = &mockAdapter{kind: k, opts: adapter.Options{MaxRetries: 3, RetryDelay: model.RetryDelay{}}}
	}
	return f
}

func (f *mockFactory) build(kind model.AdapterKind, _ adapter.Options) (adapter.Adapter, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.available[kind]
	if !ok {
		return nil, &adapter.UnavailableError{Kind: kind, Reason: "not in test build"}
	}
	f.builds[kind]++
	return a, nil
}

func (f *mockFactory) buildCount(kind model.AdapterKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds[kind]
}

type recordingObserver struct {
	NopObserver
	mu        sync.Mutex
	finished  []*Result
	fallbacks int
	retried   int
	retriedOn []model.AdapterKind
}

func (o *recordingObserver) TaskFinished(res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, res)
}

func (o *recordingObserver) AdapterFallback(_, _ model.AdapterKind, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks++
}

func (o *recordingObserver) TaskRetried(_ *model.Task, used model.AdapterKind, _ retry.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retried++
	o.retriedOn = append(o.retriedOn, used)
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func setupTestService(f *mockFactory, obs Observer, def *model.ProxyDescriptor) *Service {
	opts := []Option{
		WithFactory(f.build),
		WithRetryOptions(retry.WithSleep(noSleep)),
	}
	if obs != nil {
		opts = append(opts, WithObserver(obs))
	}
	return New(Config{DefaultAdapter: model.AdapterFingerprint, DefaultProxy: def}, opts...)
}

func mustTask(t *testing.T, opts ...model.TaskOption) *model.Task {
	t.Helper()
	task, err := model.NewTask("http://example.test/get", opts...)
	if err != nil {
		t.Fatalf("Failed to build task: %v", err)
	}
	return task
}

func TestDispatchUsesRequestedAdapter(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint, model.AdapterPlain)
	s := setupTestService(f, nil, nil)

	res, err := s.Dispatch(context.Background(), mustTask(t, model.WithAdapter(model.AdapterPlain)))
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if res.Adapter != model.AdapterPlain {
		t.Errorf("Expected adapter plain, but got %s", res.Adapter)
	}
	if res.Response.StatusCode != 200 {
		t.Errorf("Expected status 200, but got %d", res.Response.StatusCode)
	}
	if res.Elapsed <= 0 {
		t.Errorf("Expected a positive service-side elapsed time, but got %v", res.Elapsed)
	}
	if f.available[model.AdapterFingerprint].calls.Load() != 0 {
		t.Error("Expected the fingerprint adapter not to be called")
	}
}

func TestDispatchFallsBackWhenUnavailable(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	obs := &recordingObserver{}
	s := setupTestService(f, obs, nil)

	res, err := s.Dispatch(context.Background(), mustTask(t, model.WithAdapter(model.AdapterPlaywright)))
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if res.Fault {
		t.Fatalf("Expected a usable response, but got fault: %s", res.Response.ErrorMessage)
	}
	if res.Adapter != model.AdapterFingerprint {
		t.Errorf("Expected fallback to fingerprint, but got %s", res.Adapter)
	}
	if obs.fallbacks != 1 {
		t.Errorf("Expected 1 fallback event, but got %d", obs.fallbacks)
	}
	if got := s.Stats().Fallbacks; got != 1 {
		t.Errorf("Expected fallback counter 1, but got %d", got)
	}
}

func TestDispatchRetriesAfterFallbackReportUsedAdapter(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	f.available[model.AdapterFingerprint].execute = func(ctx context.Context, req *adapter.Request) (*model.Response, error) {
		return nil, &adapter.TransportError{URL: req.Task.URL, Err: errors.New("connection refused")}
	}
	obs := &recordingObserver{}
	s := setupTestService(f, obs, nil)

	task := mustTask(t,
		model.WithAdapter(model.AdapterPlaywright),
		model.WithMaxRetries(1),
		model.WithRetryBackoff(model.FixedDelay(0)),
	)
	if _, err := s.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}

	if len(obs.retriedOn) != 1 {
		t.Fatalf("Expected 1 retry event, but got %d", len(obs.retriedOn))
	}
	if obs.retriedOn[0] != model.AdapterFingerprint {
		t.Errorf("Expected retry on fingerprint, but got %s", obs.retriedOn[0])
	}
}

func TestDispatchDefaultAdapterUnavailableIsFault(t *testing.T) {
	f := newMockFactory() // nothing available
	s := setupTestService(f, nil, nil)

	res, err := s.Dispatch(context.Background(), mustTask(t))
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !res.Fault || res.Response.StatusCode != 500 {
		t.Errorf("Expected a 500 fault, but got %+v", res.Response)
	}
}

func TestDispatchConcurrentFirstUseBuildsOnce(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	f.delay = 20 * time.Millisecond
	s := setupTestService(f, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, _ := model.NewTask("http://example.test/get")
			if _, err := s.Dispatch(context.Background(), task); err != nil {
				t.Errorf("Dispatch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := f.buildCount(model.AdapterFingerprint); n != 1 {
		t.Errorf("Expected exactly 1 adapter construction, but got %d", n)
	}
	if n := f.available[model.AdapterFingerprint].calls.Load(); n != 16 {
		t.Errorf("Expected 16 executions, but got %d", n)
	}
}

func TestDispatchRetriesThenErrorResponse(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	fa := f.available[model.AdapterFingerprint]
	fa.execute = func(ctx context.Context, req *adapter.Request) (*model.Response, error) {
		return nil, &adapter.TransportError{URL: req.Task.URL, Err: errors.New("connection refused")}
	}
	obs := &recordingObserver{}
	s := setupTestService(f, obs, nil)

	res, err := s.Dispatch(context.Background(), mustTask(t, model.WithMaxRetries(2), model.WithRetryBackoff(model.FixedDelay(0))))
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if fa.calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, but got %d", fa.calls.Load())
	}
	if res.Response.StatusCode != model.StatusTransportFailure {
		t.Errorf("Expected status -1, but got %d", res.Response.StatusCode)
	}
	if res.Response.ErrorMessage == "" {
		t.Error("Expected an error message")
	}
	if obs.retried != 2 {
		t.Errorf("Expected 2 retry events, but got %d", obs.retried)
	}
	if st := s.Stats(); st.Failed != 1 || st.Retries != 2 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestDispatchUsesAdapterRetryDefaults(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	fa := f.available[model.AdapterFingerprint]
	fa.execute = func(ctx context.Context, req *adapter.Request) (*model.Response, error) {
		return nil, errors.New("boom")
	}
	s := setupTestService(f, nil, nil)

	_, err := s.Dispatch(context.Background(), mustTask(t, model.WithAdapterDefaults()))
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	// adapter default of 3 retries
	if fa.calls.Load() != 4 {
		t.Errorf("Expected 4 attempts, but got %d", fa.calls.Load())
	}
}

func TestDispatchPanicBecomesFault(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	f.available[model.AdapterFingerprint].execute = func(ctx context.Context, req *adapter.Request) (*model.Response, error) {
		panic("adapter exploded")
	}
	obs := &recordingObserver{}
	s := setupTestService(f, obs, nil)

	res, err := s.Dispatch(context.Background(), mustTask(t))
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !res.Fault {
		t.Fatal("Expected a fault result")
	}
	if res.Response.StatusCode != 500 {
		t.Errorf("Expected status 500, but got %d", res.Response.StatusCode)
	}
	if len(res.Response.Headers) != 0 || len(res.Response.Content) != 0 {
		t.Error("Expected empty headers and body on a fault")
	}
	if res.Response.ErrorMessage == "" {
		t.Error("Expected error text on a fault")
	}
	if len(obs.finished) != 1 {
		t.Errorf("Expected 1 finished event, but got %d", len(obs.finished))
	}
}

func TestDispatchResolvesProxy(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	def := &model.ProxyDescriptor{Host: "tunnel.example.com", Port: 15818, AuthKey: "k", AuthSecret: "s"}
	s := setupTestService(f, nil, def)

	if _, err := s.Dispatch(context.Background(), mustTask(t, model.WithProxy(model.UseDefaultProxy(true)))); err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	got := f.available[model.AdapterFingerprint].lastReq.Load().ProxyURL
	if got != "http://k:s@tunnel.example.com:15818" {
		t.Errorf("Expected resolved default proxy, but got %q", got)
	}
}

func TestDispatchMissingDefaultProxyIsFault(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	s := setupTestService(f, nil, nil)

	res, err := s.Dispatch(context.Background(), mustTask(t, model.WithProxy(model.UseDefaultProxy(true))))
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !res.Fault {
		t.Error("Expected a fault when no default proxy is configured")
	}
}

func TestDispatchInvalidTaskIsFault(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	s := setupTestService(f, nil, nil)

	task := mustTask(t)
	task.URL = "ftp://example.test"

	res, err := s.Dispatch(context.Background(), task)
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !res.Fault || res.Response.StatusCode != 500 {
		t.Errorf("Expected a 500 fault, but got %+v", res.Response)
	}
	if f.available[model.AdapterFingerprint].calls.Load() != 0 {
		t.Error("Expected no network attempt for an invalid task")
	}
}

func TestDispatchCancelled(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	s := setupTestService(f, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Dispatch(ctx, mustTask(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, but got %v", err)
	}
	if res != nil {
		t.Errorf("Expected no result, but got %+v", res)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint, model.AdapterPlain)
	s := setupTestService(f, nil, nil)

	s.Dispatch(context.Background(), mustTask(t))
	s.Dispatch(context.Background(), mustTask(t, model.WithAdapter(model.AdapterPlain)))

	if got := len(s.ActiveAdapters()); got != 2 {
		t.Fatalf("Expected 2 active adapters, but got %d", got)
	}

	if err := s.Cleanup(); err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Expected no error on second cleanup, but got %v", err)
	}

	for _, k := range []model.AdapterKind{model.AdapterFingerprint, model.AdapterPlain} {
		if n := f.available[k].closed.Load(); n != 1 {
			t.Errorf("Expected %s to be closed once, but got %d", k, n)
		}
	}

	res, _ := s.Dispatch(context.Background(), mustTask(t))
	if !res.Fault {
		t.Error("Expected dispatch after cleanup to report a fault")
	}
}

func TestCleanupClosesAdapterBuiltDuringCleanup(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	f.delay = 100 * time.Millisecond
	s := setupTestService(f, nil, nil)

	done := make(chan *Result, 1)
	go func() {
		res, _ := s.Dispatch(context.Background(), mustTask(t))
		done <- res
	}()

	// Let the dispatch get past the closed check and into the build.
	time.Sleep(20 * time.Millisecond)
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}

	var res *Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not return")
	}

	if !res.Fault {
		t.Errorf("Expected a fault for a dispatch racing cleanup, but got status %d", res.Response.StatusCode)
	}
	if n := f.available[model.AdapterFingerprint].closed.Load(); n != 1 {
		t.Errorf("Expected late adapter to be closed once, but got %d", n)
	}
	if got := s.ActiveAdapters(); len(got) != 0 {
		t.Errorf("Expected no active adapters after cleanup, but got %v", got)
	}
}

func TestStatsAndRecentTargets(t *testing.T) {
	f := newMockFactory(model.AdapterFingerprint)
	s := setupTestService(f, nil, nil)

	for _, u := range []string{"http://a.test/", "http://b.test/", "http://a.test/"} {
		task, _ := model.NewTask(u)
		s.Dispatch(context.Background(), task)
	}

	st := s.Stats()
	if st.Dispatched != 3 || st.Succeeded != 3 {
		t.Errorf("Unexpected stats %+v", st)
	}
	if st.DefaultAdapter != "fingerprint" || st.AdapterCount != 1 {
		t.Errorf("Unexpected adapter stats %+v", st)
	}

	recent := s.RecentTargets()
	if len(recent) != 2 || recent[0] != "http://a.test/" {
		t.Errorf("Unexpected recent targets %v", recent)
	}
}
