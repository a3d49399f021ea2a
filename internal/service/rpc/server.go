package rpc

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"ipclick/internal/core/dispatcher"
	"ipclick/internal/shared/logger"
	"ipclick/internal/shared/types"
	"ipclick/model"
)

// Dispatcher is the part of dispatcher.Service the RPC layer needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *model.Task) (*dispatcher.Result, error)
	Reject(task *model.Task, err error) *dispatcher.Result
}

// Server exposes a Dispatcher as ipclick.TaskService.
type Server struct {
	cfg          types.ServerConf
	dispatcher   Dispatcher
	grpcServer   *grpc.Server
	listener     net.Listener
	listenerInfo atomic.Pointer[types.ListenerInfo]
	logger       zerolog.Logger
	closeOnce    sync.Once
}

func NewServer(cfg types.ServerConf, d Dispatcher) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger.WithComponent("rpc"),
	}

	interceptors := []grpc.UnaryServerInterceptor{
		s.recoveryInterceptor,
		s.loggingInterceptor,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		interceptors = append(interceptors, rateInterceptor(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
	}
	if cfg.MaxWorkers > 0 {
		interceptors = append(interceptors, workerInterceptor(semaphore.NewWeighted(int64(cfg.MaxWorkers))))
	}

	maxMsg := cfg.MaxMessageMB << 20
	if maxMsg <= 0 {
		maxMsg = 64 << 20
	}

	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(codec{}),
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.MaxRecvMsgSize(maxMsg),
		grpc.MaxSendMsgSize(maxMsg),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
	)
	RegisterTaskServiceServer(s.grpcServer, &taskService{dispatcher: d, logger: s.logger})
	return s
}

// InitializeListener 负责监听端口, 但不阻塞。返回实际监听的端口号。
func (s *Server) InitializeListener() (int, error) {
	listenAddr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return 0, fmt.Errorf("rpc server failed to listen on %s: %w", listenAddr, err)
	}
	return s.useListener(listener), nil
}

func (s *Server) useListener(l net.Listener) int {
	s.listener = l
	info := &types.ListenerInfo{Address: l.Addr().String()}
	if tcpAddr, ok := l.Addr().(*net.TCPAddr); ok {
		info.Address = tcpAddr.IP.String()
		info.Port = tcpAddr.Port
	}
	s.listenerInfo.Store(info)
	s.logger.Info().
		Str("listen_addr", l.Addr().String()).
		Int("max_workers", s.cfg.MaxWorkers).
		Msg(">>> Task service is listening.")
	return info.Port
}

// Serve blocks until Close. It must be called after InitializeListener.
func (s *Server) Serve() error {
	if s.listener == nil {
		return fmt.Errorf("rpc: Serve called before InitializeListener")
	}
	if err := s.grpcServer.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// ServeListener is Serve on a caller-provided listener.
func (s *Server) ServeListener(l net.Listener) error {
	s.useListener(l)
	return s.Serve()
}

// GetListenerInfo 返回服务的监听信息。
func (s *Server) GetListenerInfo() *types.ListenerInfo {
	return s.listenerInfo.Load()
}

// Close drains in-flight calls for up to the configured grace period, then
// stops hard.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		grace := time.Duration(s.cfg.ShutdownGrace) * time.Second
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			s.logger.Warn().Dur("grace", grace).Msg("Graceful stop timed out, forcing")
			s.grpcServer.Stop()
			<-done
		}
		s.logger.Info().Msg("Task service stopped.")
	})
}

func (s *Server) recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("method", info.FullMethod).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in handler")
			err = status.Errorf(codes.Internal, "internal error: %v", r)
		}
	}()
	return handler(ctx, req)
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	traceID := uuid.NewString()
	l := s.logger.With().Str("trace_id", traceID).Logger()
	ctx = l.WithContext(ctx)

	start := time.Now()
	resp, err := handler(ctx, req)
	ev := l.Debug()
	if err != nil {
		ev = l.Warn().Err(err)
	}
	ev.Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("RPC finished")
	return resp, err
}

func rateInterceptor(limiter *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, status.FromContextError(ctx.Err()).Err()
			}
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		return handler(ctx, req)
	}
}

// workerInterceptor bounds concurrent dispatches to the semaphore's weight.
func workerInterceptor(sem *semaphore.Weighted) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, status.FromContextError(err).Err()
		}
		defer sem.Release(1)
		return handler(ctx, req)
	}
}

type taskService struct {
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func (t *taskService) Send(ctx context.Context, in *TaskMessage) (*ResponseMessage, error) {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &t.logger
	}
	l.Info().Str("uuid", in.UUID).Str("url", in.URL).Msg("Received request")

	task, err := TaskFromMessage(in)
	if err != nil {
		res := t.dispatcher.Reject(task, err)
		return ResultToMessage(res, in), nil
	}

	res, err := t.dispatcher.Dispatch(ctx, task)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}

	out := ResultToMessage(res, in)
	l.Info().
		Str("uuid", out.RequestUUID).
		Int64("elapsed_ms", out.ResponseTimeMs).
		Int32("status", out.StatusCode).
		Str("adapter", res.Adapter.String()).
		Msg("Request completed")
	return out, nil
}
