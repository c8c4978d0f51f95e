package main

import (
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/corelogio/logstore/httpapi"
	"github.com/corelogio/logstore/logdev"
	"github.com/corelogio/logstore/logdev/filedevice"
	"github.com/corelogio/logstore/logdev/memorydevice"
	"github.com/corelogio/logstore/logdev/sqlitedevice"
	"github.com/corelogio/logstore/storemanager"
)

func main() {
	configPath := flag.String("config", "", "path to a viper config file (optional)")
	httpAddr := flag.String("http-addr", ":8090", "introspection HTTP API address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus /metrics address")
	grpcAddr := flag.String("grpc-addr", ":50051", "gRPC admin plane (health + reflection) address")
	flag.Parse()

	v := viper.New()
	v.SetEnvPrefix("LOGSTORE")
	v.AutomaticEnv()
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			slog.Error("server: read config", "error", err)
			os.Exit(1)
		}
	}

	cfg := storemanager.LoadConfig(v)

	device, err := buildDevice(cfg)
	if err != nil {
		slog.Error("server: build device", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := storemanager.NewMetrics(registry)
	manager := storemanager.New(device, cfg.Store, metrics)

	go refreshMetricsLoop(manager)

	httpSrv := httpapi.NewServer(manager, *httpAddr)
	if err := httpSrv.Start(); err != nil {
		slog.Error("server: start http api", "error", err)
		os.Exit(1)
	}

	go serveMetrics(*metricsAddr, registry)
	go serveGRPCAdmin(*grpcAddr)

	instanceID := uuid.New()
	slog.Info("server: ready", "instance_id", instanceID, "device_backend", cfg.DeviceBackend, "http_addr", *httpAddr, "grpc_addr", *grpcAddr)
	select {}
}

func buildDevice(cfg storemanager.Config) (logdev.LogDevice, error) {
	switch cfg.DeviceBackend {
	case "file":
		return filedevice.New(cfg.DevicePath)
	case "sqlite":
		return sqlitedevice.New(sqlitedevice.DefaultConfig(cfg.DevicePath))
	default:
		return memorydevice.New(1), nil
	}
}

func refreshMetricsLoop(manager *storemanager.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		manager.RefreshMetrics()
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec
		slog.Error("server: metrics endpoint failed", "error", err)
	}
}

func serveGRPCAdmin(addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("server: grpc admin listen", "error", err)
		return
	}
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	slog.Info("server: grpc admin plane listening", "addr", addr)
	if err := grpcServer.Serve(lis); err != nil {
		slog.Error("server: grpc admin serve", "error", err)
	}
}
