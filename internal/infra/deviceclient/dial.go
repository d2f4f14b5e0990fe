package deviceclient

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/aegis-sign/keystone-bridge/internal/infra/devicerpc"
	"github.com/mdlayher/vsock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Dialer 允许替换拨号逻辑，测试中用于注入 bufconn。
type Dialer func(ctx context.Context, cfg Config) (*grpc.ClientConn, error)

// defaultDialer 阻塞直到连接就绪或 ctx 到期。
func defaultDialer(ctx context.Context, cfg Config) (*grpc.ClientConn, error) {
	params := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: true,
	}
	dopts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(params),
		grpc.WithContextDialer(dialEndpoint),
		grpc.WithBlock(),
	}
	if cfg.CallTimeout > 0 {
		serviceConfig := fmt.Sprintf(`{"methodConfig":[{"name":[{"service":%q}],"timeout":%q}]}`, devicerpc.ServiceName, cfg.CallTimeout.String())
		dopts = append(dopts, grpc.WithDefaultServiceConfig(serviceConfig))
	}
	return grpc.DialContext(ctx, "passthrough:///"+cfg.Endpoint, dopts...)
}

// dialEndpoint 支持 unix://path、vsock://cid:port 与 host:port。
func dialEndpoint(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	switch {
	case strings.HasPrefix(endpoint, "unix://"):
		return d.DialContext(ctx, "unix", strings.TrimPrefix(endpoint, "unix://"))
	case strings.HasPrefix(endpoint, "unix:"):
		return d.DialContext(ctx, "unix", strings.TrimPrefix(endpoint, "unix:"))
	case strings.HasPrefix(endpoint, "vsock://"):
		return dialVsock(ctx, strings.TrimPrefix(endpoint, "vsock://"))
	case strings.HasPrefix(endpoint, "vsock:"):
		return dialVsock(ctx, strings.TrimPrefix(endpoint, "vsock:"))
	default:
		return d.DialContext(ctx, "tcp", strings.TrimPrefix(endpoint, "tcp://"))
	}
}

func parseVsock(target string) (cid, port uint32, err error) {
	cidText, portText, ok := strings.Cut(target, ":")
	if !ok || cidText == "" || portText == "" {
		return 0, 0, fmt.Errorf("invalid vsock endpoint: %s", target)
	}
	c, err := strconv.ParseUint(cidText, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock cid: %w", err)
	}
	p, err := strconv.ParseUint(portText, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock port: %w", err)
	}
	return uint32(c), uint32(p), nil
}

// dialVsock 不支持 ctx，放到协程里以便按 ctx 提前返回。
func dialVsock(ctx context.Context, target string) (net.Conn, error) {
	cid, port, err := parseVsock(target)
	if err != nil {
		return nil, err
	}
	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, dialErr := vsock.Dial(cid, port, nil)
		resultCh <- dialResult{conn: conn, err: dialErr}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.conn, res.err
	}
}
