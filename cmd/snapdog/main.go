// SnapDog Core - Snapcast control plane
//
// This is the main entry point for the SnapDog Core application. It keeps a
// self-healing JSON-RPC connection to a Snapcast server and exposes it:
//   - Over MQTT as retained state topics and command topics
//   - Over HTTP as a REST API with a live WebSocket event feed
//   - Optionally as InfluxDB telemetry
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapdog2/snapdog-core/internal/api"
	snapbridge "github.com/snapdog2/snapdog-core/internal/bridges/snapcast"
	"github.com/snapdog2/snapdog-core/internal/infrastructure/config"
	"github.com/snapdog2/snapdog-core/internal/infrastructure/influxdb"
	"github.com/snapdog2/snapdog-core/internal/infrastructure/logging"
	"github.com/snapdog2/snapdog-core/internal/infrastructure/mqtt"
	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
	snapapi "github.com/snapdog2/snapdog-core/internal/snapcast"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the Snapcast close handshake on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	// Cancel on Ctrl+C or SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SnapDog Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version).WithSite(cfg.Site.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to the Snapcast server
	rpcClient := newSnapcastClient(cfg.Snapcast, log)
	if err := rpcClient.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to Snapcast: %w", err)
	}
	defer func() {
		log.Info("disconnecting from Snapcast")
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := rpcClient.Disconnect(closeCtx); closeErr != nil {
			log.Error("error closing Snapcast connection", "error", closeErr)
		}
	}()
	log.Info("Snapcast connected", "url", cfg.Snapcast.URL())

	service := snapapi.NewService(rpcClient)
	if v, verErr := service.GetRPCVersion(ctx); verErr != nil {
		log.Warn("could not read Snapcast RPC version", "error", verErr)
	} else {
		log.Info("Snapcast RPC version", "major", v.Major, "minor", v.Minor, "patch", v.Patch)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic_prefix", mqttClient.Topics().Prefix(),
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, map[string]string{"site_id": cfg.Site.ID})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the Snapcast MQTT bridge
	bridge, err := startBridge(ctx, cfg, rpcClient, service, mqttClient, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting Snapcast bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Snapcast bridge")
		bridge.Stop()
	}()

	// MQTT reconnects with a clean session lose retained state we published
	// while the broker was away, so republish everything.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		bridge.RequestResync()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Start the HTTP API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Snapcast: rpcClient,
		Service:  service,
		MQTT:     mqttClient,
		Bridge:   bridge,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, rpcClient, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g, gctx := errgroup.WithContext(ctx)
	if influxClient != nil {
		interval := time.Duration(cfg.InfluxDB.StatsInterval) * time.Second
		g.Go(func() error {
			sampleRPCStats(gctx, rpcClient, influxClient, interval)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil {
		log.Error("background task failed", "error", err)
	}

	// Deferred calls run in reverse order: API, bridge, InfluxDB, MQTT, Snapcast.

	log.Info("SnapDog Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SNAPDOG_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SNAPDOG_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newSnapcastClient builds the JSON-RPC client for the Snapcast control port.
func newSnapcastClient(cfg config.SnapcastConfig, log *logging.Logger) *jsonrpc.Client {
	transport := jsonrpc.NewWSTransport(jsonrpc.WSConfig{
		URL:              cfg.URL(),
		HandshakeTimeout: cfg.ConnectTimeout,
		PingInterval:     cfg.PingInterval,
		MaxMessageSize:   cfg.MaxMessageSize,
	})

	client := jsonrpc.NewClient(transport, jsonrpc.Config{
		Name:           "snapcast",
		RequestTimeout: cfg.RequestTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
		ConnectRetry:   retryPolicy(cfg.ConnectRetry),
		OperationRetry: retryPolicy(cfg.OperationRetry),
		Breaker: jsonrpc.BreakerConfig{
			Enabled:     cfg.CircuitBreaker.Enabled,
			MaxFailures: cfg.CircuitBreaker.MaxFailures,
			OpenTimeout: cfg.CircuitBreaker.OpenTimeout,
		},
	})
	client.SetLogger(log.Component("snapcast"))
	return client
}

func retryPolicy(cfg config.RetryConfig) jsonrpc.RetryPolicy {
	return jsonrpc.RetryPolicy{
		Attempts:     cfg.Attempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
	}
}

// startBridge creates and starts the Snapcast MQTT bridge.
// influxClient may be nil when telemetry is disabled.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	rpcClient *jsonrpc.Client,
	service *snapapi.Service,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*snapbridge.Bridge, error) {
	opts := snapbridge.BridgeOptions{
		MQTT:           mqttClient,
		Source:         rpcClient,
		Controller:     service,
		Topics:         mqttClient.Topics(),
		QoS:            mqttClient.QoS(),
		CommandRate:    cfg.MQTT.Commands.RatePerSecond,
		CommandBurst:   cfg.MQTT.Commands.Burst,
		CommandTimeout: cfg.MQTT.Commands.Timeout,
		Logger:         log.Component("snapcast-bridge"),
	}
	// Only set when enabled so the interface never holds a typed nil.
	if influxClient != nil {
		opts.Recorder = influxClient
	}

	bridge, err := snapbridge.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("Snapcast bridge started",
		"commands", mqttClient.Topics().AllSnapcastCommands(),
	)
	return bridge, nil
}

// sampleRPCStats writes JSON-RPC client counters to InfluxDB every interval
// until ctx is cancelled.
func sampleRPCStats(ctx context.Context, rpcClient *jsonrpc.Client, influxClient *influxdb.Client, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			influxClient.WriteRPCStats("snapcast", rpcStatsSample(rpcClient.IsConnected(), rpcClient.Stats()))
		}
	}
}

// rpcStatsSample converts client counters into an InfluxDB sample.
func rpcStatsSample(connected bool, s jsonrpc.Stats) influxdb.RPCStats {
	return influxdb.RPCStats{
		Connected:       connected,
		RequestsSent:    s.RequestsSent,
		Responses:       s.Responses,
		Notifications:   s.Notifications,
		MalformedFrames: s.MalformedFrames,
		Timeouts:        s.Timeouts,
		ConnectionsLost: s.ConnectionsLost,
		Reconnects:      s.Reconnects,
		Pending:         s.Pending,
	}
}

// healthChecker is any component with a health check.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil if disabled.
func healthCheck(ctx context.Context, rpcClient, mqttClient healthChecker, influxClient *influxdb.Client, apiServer healthChecker) error {
	if err := rpcClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("snapcast: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
