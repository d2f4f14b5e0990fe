package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aegis-sign/keystone-bridge/internal/app/transport"
	"github.com/aegis-sign/keystone-bridge/internal/bridge"
	"github.com/aegis-sign/keystone-bridge/internal/config"
	"github.com/aegis-sign/keystone-bridge/internal/infra/device/mockdevice"
	"github.com/aegis-sign/keystone-bridge/internal/infra/deviceclient"
	"github.com/aegis-sign/keystone-bridge/internal/port/nativemsg"
	"github.com/aegis-sign/keystone-bridge/internal/port/wsport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", os.Getenv("KEYSTONE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keystone-bridge: %v\n", err)
		os.Exit(2)
	}
	// stdout 在 native 模式下承载消息帧，日志只写 stderr。
	level := new(slog.LevelVar)
	level.Set(cfg.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, *configPath, level, logger); err != nil {
		logger.Error("bridge exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, configPath string, level *slog.LevelVar, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory, err := deviceFactory(cfg, logger, reg)
	if err != nil {
		return err
	}
	adapter, err := transport.NewAdapter(factory, transport.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.Warn("close device handle", "error", err)
		}
	}()
	dispatcher, err := bridge.NewDispatcher(adapter,
		bridge.WithDispatcherLogger(logger),
		bridge.WithMetrics(bridge.NewMetrics(reg)),
		bridge.WithRequestTimeout(cfg.Bridge.RequestTimeout),
	)
	if err != nil {
		return err
	}
	listener, err := bridge.NewListener(dispatcher,
		bridge.WithTarget(cfg.Bridge.Target),
		bridge.WithListenerLogger(logger),
		bridge.WithRateLimit(cfg.Bridge.RateLimit, cfg.Bridge.RateBurst),
	)
	if err != nil {
		return err
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger, func(next config.Config) {
			// 只有限速与日志级别支持热更新，其余字段需重启。
			level.Set(next.Level())
			listener.UpdateRateLimit(next.Bridge.RateLimit)
		})
		if err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/debug/bridge", listener.DebugHandler())

	var ws *wsport.Server
	if cfg.Mode == config.ModeWebSocket {
		ws = wsport.NewServer(listener,
			wsport.WithLogger(logger),
			wsport.WithTimeouts(cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout),
			wsport.WithHeartbeat(cfg.HTTP.Heartbeat),
			wsport.WithReadLimit(cfg.HTTP.ReadLimit),
			wsport.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
		)
		mux.Handle(cfg.HTTP.WSPath, ws)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.HTTP.Addr != "" {
		go func() {
			logger.Info("HTTP server listening", "addr", httpSrv.Addr, "mode", cfg.Mode)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				if cfg.Mode == config.ModeWebSocket {
					logger.Error("http server closed unexpectedly", "error", err)
					stop()
					return
				}
				// native 模式下运维端口是可选的，多个浏览器实例会争用同一端口。
				logger.Warn("ops endpoint unavailable", "error", err)
			}
		}()
	}

	if cfg.Mode == config.ModeNative {
		go func() {
			defer stop()
			if err := listener.Serve(ctx, nativemsg.New(os.Stdin, os.Stdout)); err != nil {
				logger.Error("native messaging port failed", "error", err)
			}
			logger.Info("native messaging port closed")
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down bridge")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ws != nil {
		if err := ws.Stop(shutdownCtx); err != nil {
			logger.Warn("websocket shutdown error", "error", err)
		}
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	return nil
}

func deviceFactory(cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (transport.Factory, error) {
	switch cfg.Device.Mode {
	case config.DeviceModeMock:
		logger.Warn("using in-memory mock device, signatures are placeholders")
		return mockdevice.Factory(mockdevice.New(), nil), nil
	case config.DeviceModeGRPC:
		return deviceclient.Factory(cfg.Device.Config,
			deviceclient.WithLogger(logger),
			deviceclient.WithMetrics(deviceclient.NewMetrics(reg)),
		), nil
	default:
		return nil, fmt.Errorf("unsupported device mode %q", cfg.Device.Mode)
	}
}
