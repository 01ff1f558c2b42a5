package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/salvadorguc/sisproone-gateway/internal/logger"
	"github.com/salvadorguc/sisproone-gateway/internal/telemetry"
	"github.com/salvadorguc/sisproone-gateway/pkg/buffer"
	"github.com/salvadorguc/sisproone-gateway/pkg/clock"
	"github.com/salvadorguc/sisproone-gateway/pkg/config"
	"github.com/salvadorguc/sisproone-gateway/pkg/controlapi"
	"github.com/salvadorguc/sisproone-gateway/pkg/device"
	"github.com/salvadorguc/sisproone-gateway/pkg/engine"
	"github.com/salvadorguc/sisproone-gateway/pkg/events"
	"github.com/salvadorguc/sisproone-gateway/pkg/mesclient"
	"github.com/salvadorguc/sisproone-gateway/pkg/metrics"
	"github.com/salvadorguc/sisproone-gateway/pkg/replicator"
	"github.com/salvadorguc/sisproone-gateway/pkg/transport"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the production counter gateway: open the RS-485 transport,
wire the durable buffer and MES client, and serve the local control API.

By default, the gateway runs in the background (daemon mode). Use
--foreground to run in the foreground for debugging or when managed by a
process supervisor.

Examples:
  # Start in background (default)
  gateway start

  # Start in foreground
  gateway start --foreground

  # Start with a custom configuration file
  gateway start --config /etc/sisproone-gateway/config.yaml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "path to PID file (default: $XDG_STATE_HOME/sisproone-gateway/gateway.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "path to log file for daemon mode (default: $XDG_STATE_HOME/sisproone-gateway/gateway.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "sisproone-gateway",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	logger.Info("starting gateway", "version", Version, "config_source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "sisproone-gateway",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiler shutdown error", "error", err)
		}
	}()
	if telemetry.IsProfilingEnabled() {
		logger.Info("continuous profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	store, err := buffer.New(buffer.Config{Path: cfg.Buffer.Path})
	if err != nil {
		return fmt.Errorf("failed to open buffer store: %w", err)
	}
	defer func() { _ = store.Close() }()

	mes := mesclient.New(mesclient.Config{
		BaseURL:   cfg.MES.BaseURL,
		Username:  cfg.MES.Username,
		Password:  cfg.MES.Password,
		CompanyID: cfg.MES.CompanyID,
		UserID:    cfg.MES.UserID,
	})
	if err := mes.Authenticate(ctx); err != nil {
		return fmt.Errorf("failed to authenticate against MES: %w", err)
	}

	bus := events.New(0)
	devices := device.NewManager(clock.New())

	repl := replicator.New(store, mes, bus, clock.New(), replicator.Config{
		BatchMax:            cfg.Buffer.BatchMax,
		MaxPassesPerTrigger: cfg.Sync.MaxAttemptsPerPass,
		Interval:            time.Duration(cfg.Sync.IntervalSec) * time.Second,
	})

	port, err := transport.Open(transport.Config{Port: cfg.RS485.Port, Baud: cfg.RS485.Baud})
	if err != nil {
		return fmt.Errorf("failed to open RS-485 transport: %w", err)
	}

	eng := engine.New(engine.Deps{
		Devices:       devices,
		Store:         store,
		MES:           mes,
		Repl:          repl,
		Bus:           bus,
		Writer:        port,
		Clock:         clock.New(),
		UserID:        cfg.MES.UserID,
		SupervisorPIN: cfg.Control.SupervisorPIN,
	})
	eng.Run(ctx)

	housekeeper := engine.NewHousekeeper(eng, cfg.Buffer.RetentionDays)
	housekeeper.Start(ctx)

	repl.Start(ctx)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port))
		go func() {
			if err := metricsSrv.Start(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	controlSrv := controlapi.NewServer(cfg.Control.ListenAddr, cfg.Control.Token, eng, store, bus)

	readTimeout := time.Duration(cfg.RS485.TimeoutMs) * time.Millisecond
	go runTransportReader(ctx, port, eng, readTimeout)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- controlSrv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("gateway is running", "control_addr", cfg.Control.ListenAddr, "rs485_port", cfg.RS485.Port)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, draining")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("control API server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer shutdownCancel()

	// The engine loop and the Replicator keep running while Engine.Shutdown
	// drains the buffer; the root context is cancelled once it returns.
	eng.Shutdown(shutdownCtx, port)
	cancel()
	repl.Stop()
	housekeeper.Stop()
	_ = controlSrv.Stop(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Stop(shutdownCtx)
	}

	logger.Info("gateway stopped")
	return nil
}

// runTransportReader owns the single reader goroutine for the RS-485 bus:
// it blocks on ReadFrame and hands every successfully parsed frame to the
// Orchestrator. A malformed line or a read timeout never terminates the
// loop; any other read error (such as ErrPortLost) is logged and retried
// after a one-second pause. Only ctx cancellation ends the loop.
func runTransportReader(ctx context.Context, port *transport.Port, eng *engine.Engine, readTimeout time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}

		readCtx := ctx
		var cancel context.CancelFunc
		if readTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, readTimeout)
		}

		frame, err := port.ReadFrame(readCtx)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			var parseErr *transport.ParseError
			if errors.As(err, &parseErr) {
				metrics.FramesMalformed.WithLabelValues("grammar").Inc()
				logger.Warn("malformed frame", "raw", parseErr.Raw)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("transport read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		eng.SubmitFrame(frame)
	}
}

// getConfigSource describes where the loaded configuration came from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon re-executes the current binary with --foreground, detached
// into its own session, and writes its stdout/stderr to a log file.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("gateway is already running (PID %d)", pid)
					}
				}
			}
		}
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = logFileHandle.Close() }()

	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("gateway started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)

	return nil
}
