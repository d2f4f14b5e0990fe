// keystone-devicesim 以 gRPC 暴露内存设备，用于联调 grpc 设备模式。
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aegis-sign/keystone-bridge/internal/infra/device/mockdevice"
	"github.com/aegis-sign/keystone-bridge/internal/infra/devicerpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	addr := flag.String("listen", "unix:///tmp/keystone-device.sock", "unix://path or host:port")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	network, address := "tcp", *addr
	if path, ok := strings.CutPrefix(*addr, "unix://"); ok {
		network, address = "unix", path
		_ = os.Remove(path)
	}
	lis, err := net.Listen(network, address)
	if err != nil {
		logger.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	srv := grpc.NewServer()
	devicerpc.RegisterDeviceServiceServer(srv, devicerpc.NewDeviceServer(mockdevice.New(), logger))
	hs := health.NewServer()
	hs.SetServingStatus(devicerpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		logger.Info("device simulator listening", "addr", *addr)
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server closed unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down device simulator")
	hs.Shutdown()
	srv.GracefulStop()
}
