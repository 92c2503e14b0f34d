package wallet

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"seamless/credentials"
	"seamless/metrics"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Connector hands out a wallet client for a credentials bundle.
type Connector interface {
	Client(b credentials.Bundle) (Client, error)
}

var _ Connector = (*Pool)(nil)

// Pool keeps one gRPC connection per wallet address.
type Pool struct {
	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	opts    []grpc.DialOption
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewPool(log *zap.Logger, m *metrics.Metrics, timeout time.Duration, opts ...grpc.DialOption) *Pool {
	p := &Pool{
		conns:   make(map[string]*grpc.ClientConn),
		timeout: timeout,
		metrics: m,
		log:     log,
	}
	p.opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(p.unaryInterceptor),
	}, opts...)
	return p
}

func (p *Pool) Client(b credentials.Bundle) (Client, error) {
	if b.WalletAddr == "" {
		return nil, errors.New("wallet address not configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	conn, ok := p.conns[b.WalletAddr]
	if !ok {
		var err error
		conn, err = grpc.NewClient(b.WalletAddr, p.opts...)
		if err != nil {
			return nil, fmt.Errorf("dial wallet %s: %w", b.WalletAddr, err)
		}
		p.conns[b.WalletAddr] = conn
	}
	return NewGRPCClient(conn, b.WalletToken, b.WalletSigningSecret), nil
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for addr, conn := range p.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
		delete(p.conns, addr)
	}
	return errors.Join(errs...)
}

func (p *Pool) unaryInterceptor(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	start := time.Now()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err := invoker(ctx, method, req, reply, cc, opts...)

	name := path.Base(method)
	p.metrics.ObserveWalletCall(name, status.Code(err).String(), time.Since(start))
	p.log.Debug("wallet rpc",
		zap.String("method", name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return err
}
