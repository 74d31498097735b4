package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// CompleteMethod is the full gRPC method name of the completion RPC. Requests
// and responses are google.protobuf.Struct messages.
const CompleteMethod = "/codetutor.provider.v1.CompletionService/Complete"

// HealthService is the service name checked by Health.
const HealthService = "codetutor.provider.v1.CompletionService"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the gRPC completion client.
type GRPCConfig struct {
	Address          string
	Name             string
	Credential       string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:          "localhost:50051",
		Name:             "grpc",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPC is a Completer backed by a remote completion service.
type GRPC struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cfg    GRPCConfig
	logger *slog.Logger
}

var _ Completer = (*GRPC)(nil)

// NewGRPC connects to the completion service and waits until the connection
// is ready. Extra dial options are appended after the defaults.
func NewGRPC(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPC, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGRPCConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for provider at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("provider at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("connected to completion provider", "address", cfg.Address, "provider", cfg.Name)

	return &GRPC{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name returns the configured provider name.
func (c *GRPC) Name() string {
	return c.cfg.Name
}

// Close closes the gRPC connection.
func (c *GRPC) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health reports whether the completion service is serving.
func (c *GRPC) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("provider status %s", resp.GetStatus())
	}
	return nil
}

// Complete sends prompt to the completion service.
func (c *GRPC) Complete(ctx context.Context, prompt string, class domain.RequestClass) (Completion, error) {
	req, err := structpb.NewStruct(map[string]any{
		"prompt": prompt,
		"class":  class.String(),
	})
	if err != nil {
		return Completion{}, fmt.Errorf("encode completion request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if c.cfg.Credential != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.cfg.Credential)
	}

	var trailer metadata.MD
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, CompleteMethod, req, resp, grpc.Trailer(&trailer)); err != nil {
		return Completion{}, fromStatus(err, trailer)
	}

	fields := resp.GetFields()
	content := fields["content"].GetStringValue()
	if content == "" {
		return Completion{}, ErrEmptyCompletion
	}
	return Completion{
		Content: content,
		Usage:   Usage{OutputTokens: int(fields["output_tokens"].GetNumberValue())},
	}, nil
}

// fromStatus maps a gRPC error onto the provider error taxonomy.
func fromStatus(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return &NetworkError{Err: err}
	}
	msg := st.Message()

	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return &AuthError{Message: msg}
	case codes.ResourceExhausted:
		return &RateLimitError{RetryAfter: retryAfter(trailer), Message: msg}
	case codes.Unavailable, codes.DeadlineExceeded:
		return &NetworkError{Err: err}
	case codes.Canceled:
		return context.Canceled
	default:
		return &ServerError{Status: httpStatus(st.Code()), Message: msg}
	}
}

func retryAfter(md metadata.MD) time.Duration {
	vals := md.Get("retry-after")
	if len(vals) == 0 {
		return 0
	}
	secs, err := strconv.Atoi(vals[0])
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
