// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Gameward-controller is the control-surface daemon: it owns the
// Global Database, the instance and job managers, the internal/api
// control surface, and (via internal/controller) the per-instance
// watchdog, game-server session, and chat bridge that SetOnline starts
// and stops.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gameward/gameward/internal/api"
	"github.com/gameward/gameward/internal/authtoken"
	"github.com/gameward/gameward/internal/autoupdate"
	"github.com/gameward/gameward/internal/compile"
	"github.com/gameward/gameward/internal/controller"
	"github.com/gameward/gameward/internal/deployment"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/instance"
	"github.com/gameward/gameward/internal/job"
	"github.com/gameward/gameward/internal/repo"
	"github.com/gameward/gameward/internal/repository"
	"github.com/gameward/gameward/internal/store"
	"github.com/gameward/gameward/internal/toolchain"
	"github.com/gameward/gameward/lib/config"
	"github.com/gameward/gameward/lib/process"
	"github.com/gameward/gameward/lib/sealed"
	"github.com/gameward/gameward/lib/secret"
	"github.com/gameward/gameward/lib/service"
	"github.com/gameward/gameward/lib/servicetoken"
)

const tokenTTL = 12 * time.Hour

// autoUpdatePollInterval is how often the auto-update poller
// re-evaluates every instance's AutoUpdateCron expression. Cron
// expressions are minute-granular, so this need not be finer than
// that to never miss a scheduled run by more than one interval.
const autoUpdatePollInterval = 30 * time.Second

// repositoryDirName is the on-disk subdirectory of an instance's
// directory holding its version-controlled working copy.
const repositoryDirName = "Repository"

// repositoryEngineCache returns an autoupdate.EngineFor that lazily
// builds and caches one repo.Engine per instance, so the mutex each
// Engine carries serializes concurrent auto-update ticks against any
// other repository operation on the same working copy.
func repositoryEngineCache() autoupdate.EngineFor {
	var mu sync.Mutex
	engines := make(map[string]*repo.Engine)

	return func(inst *domain.Instance) *repo.Engine {
		mu.Lock()
		defer mu.Unlock()
		if engine, ok := engines[inst.ID]; ok {
			return engine
		}
		engine := repo.New(filepath.Join(inst.Path, repositoryDirName))
		engines[inst.ID] = engine
		return engine
	}
}

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var showVersion bool
	var configPath string
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "path to the controller config file (defaults to $GAMEWARD_CONFIG)")
	flag.Parse()

	if showVersion {
		fmt.Println("gameward-controller (development build)")
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return fmt.Errorf("preparing controller directories: %w", err)
	}

	logger := newLogger(cfg.FileLogging)

	checkControllerWatchdog(controllerWatchdogPath(cfg.General.InstallDirectory), mustExecutablePath(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restartSignal := make(chan os.Signal, 1)
	signal.Notify(restartSignal, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-restartSignal:
				if err := restartController(cfg.General.InstallDirectory, logger); err != nil {
					logger.Error("controller self-restart failed", "error", err)
				}
			}
		}
	}()

	st, err := store.Open(store.Config{
		Path:     cfg.Database.Path,
		PoolSize: cfg.Database.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	publicKey, privateKey, generated, err := servicetoken.LoadOrGenerateKeypair(cfg.General.InstallDirectory)
	if err != nil {
		return fmt.Errorf("loading token signing key: %w", err)
	}
	if generated {
		logger.Info("generated a new token signing key")
	}
	tokens := authtoken.New(privateKey, publicKey, tokenTTL, nil)

	jobs := job.New(st, nil)
	runningJobs, err := st.LoadRunningJobs()
	if err != nil {
		return fmt.Errorf("loading in-flight jobs: %w", err)
	}
	jobs.MarkOrphansCancelled(runningJobs)

	sealedKeypair, sealedGenerated, err := loadOrGenerateSealedKeypair(cfg.General.InstallDirectory)
	if err != nil {
		return fmt.Errorf("loading credential sealing key: %w", err)
	}
	defer sealedKeypair.Close()
	if sealedGenerated {
		logger.Info("generated a new credential sealing key")
	}

	deployments := deployment.New(filepath.Join(cfg.General.InstallDirectory, "deployments"))

	toolchains := toolchain.New(cfg.Toolchain.CacheDirectory, cfg.Toolchain.PinListPath,
		toolchain.CommandInstaller(cfg.Toolchain.InstallerCommand))
	if evicted, err := toolchains.CleanCache(ctx); err != nil {
		logger.Warn("toolchain cache clean failed", "error", err)
	} else if len(evicted) > 0 {
		logger.Info("evicted unpinned toolchain versions", "versions", evicted)
	}

	lifecycle := controller.New(deployments, toolchains, sealedKeypair.PublicKey, sealedKeypair.PrivateKey, controller.Config{
		BridgeURL:              cfg.Bridge.URL,
		BridgeAPIVersion:       cfg.Bridge.APIVersion,
		StartupTimeout:         time.Duration(cfg.Bridge.StartupTimeoutSeconds) * time.Second,
		HeartbeatMissedRetries: cfg.General.HeartbeatMissedRetries,
	}, nil, logger)

	instances := instance.New(st, cfg.General.InstallDirectory, jobs, lifecycle, lifecycle, nil)
	lifecycle.ResumeAll(ctx, instances.List())

	engineFor := repositoryEngineCache()

	poller := autoupdate.New(instances, engineFor, jobs, nil, logger)
	go poller.Run(ctx, autoUpdatePollInterval)

	compiler := compile.New(engineFor, toolchains, deployments, jobs,
		compile.CommandCompiler(cfg.Toolchain.CompilerBinaryName), nil, logger)
	repositories := repository.New(engineFor, jobs, logger)

	apiServer := api.New(instances, jobs, compiler, repositories, tokens, st, logger)

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ControlPanel.Address,
		Handler: apiServer.Routes(),
		Logger:  logger,
	})

	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpServer.Serve(ctx)
	}()

	select {
	case <-httpServer.Ready():
		logger.Info("control surface ready", "address", httpServer.Addr().String())
	case <-ctx.Done():
		return ctx.Err()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-httpDone; err != nil {
		logger.Error("http server error", "error", err)
		return err
	}
	return nil
}

// loadOrGenerateSealedKeypair loads the controller's age keypair from
// stateDir, or generates and persists a new one on first boot. The
// private key is kept in mmap-backed memory end to end; only its bytes
// ever touch disk, and only with owner-only permissions.
func loadOrGenerateSealedKeypair(stateDir string) (*sealed.Keypair, bool, error) {
	privateKeyPath := filepath.Join(stateDir, "sealing-key.txt")
	publicKeyPath := filepath.Join(stateDir, "sealing-key.pub")

	privateKeyData, err := os.ReadFile(privateKeyPath)
	if err == nil {
		publicKeyData, err := os.ReadFile(publicKeyPath)
		if err != nil {
			secret.Zero(privateKeyData)
			return nil, false, fmt.Errorf("private key exists but public key missing at %s: %w", publicKeyPath, err)
		}

		trimmed := bytes.TrimSpace(privateKeyData)
		privateKeyBuffer, bufErr := secret.NewFromBytes(trimmed)
		secret.Zero(privateKeyData)
		if bufErr != nil {
			return nil, false, fmt.Errorf("protecting private key: %w", bufErr)
		}

		publicKey := strings.TrimSpace(string(publicKeyData))
		if err := sealed.ParsePrivateKey(privateKeyBuffer); err != nil {
			privateKeyBuffer.Close()
			return nil, false, fmt.Errorf("stored private key is invalid: %w", err)
		}
		if err := sealed.ParsePublicKey(publicKey); err != nil {
			privateKeyBuffer.Close()
			return nil, false, fmt.Errorf("stored public key is invalid: %w", err)
		}
		return &sealed.Keypair{PrivateKey: privateKeyBuffer, PublicKey: publicKey}, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("reading private key from %s: %w", privateKeyPath, err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, false, fmt.Errorf("generating keypair: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		keypair.Close()
		return nil, false, fmt.Errorf("creating state directory %s: %w", stateDir, err)
	}
	if err := os.WriteFile(privateKeyPath, keypair.PrivateKey.Bytes(), 0o600); err != nil {
		keypair.Close()
		return nil, false, fmt.Errorf("writing private key to %s: %w", privateKeyPath, err)
	}
	if err := os.WriteFile(publicKeyPath, []byte(keypair.PublicKey), 0o644); err != nil {
		keypair.Close()
		return nil, false, fmt.Errorf("writing public key to %s: %w", publicKeyPath, err)
	}
	return keypair, true, nil
}

func newLogger(cfg config.FileLoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Directory == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	file, err := os.OpenFile(filepath.Join(cfg.Directory, "gameward-controller.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
