package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	config "testbot/configs"
	"testbot/pkg/api"
	"testbot/pkg/auth"
	"testbot/pkg/coordination"
	"testbot/pkg/coordination/etcd"
	"testbot/pkg/executor/runner"
	"testbot/pkg/logger"
	tracing "testbot/pkg/observability"
	"testbot/pkg/orchestrator"
	"testbot/pkg/platform"
	"testbot/pkg/scheduler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	once := flag.Bool("once", false, "run a single pass over all targets and exit")
	configPath := flag.String("config", "", "targets file (overrides TESTBOT_CONFIG)")
	runOnStart := flag.Bool("run-on-start", false, "start a pass immediately in daemon mode")
	tokenRole := flag.String("token", "", "print an API token for the given role (admin, operator, viewer) and exit")
	flag.Parse()

	cfg := config.LoadConfig()
	if *configPath != "" {
		cfg.TargetsFile = *configPath
	}

	logCfg := logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogOutput,
		Service:    "testbot",
	}
	log, err := logger.Init(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *tokenRole != "" {
		if err := printToken(cfg, *tokenRole); err != nil {
			log.Fatal("Failed to issue token", zap.Error(err))
		}
		return
	}

	if err := run(cfg, log, *once, *runOnStart); err != nil {
		log.Error("testbot stopped with errors", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger, once, runOnStart bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		return err
	}
	log.Info("Loaded targets", zap.String("file", cfg.TargetsFile), zap.Int("count", len(targets)))

	env, err := platform.Setup(runtime.GOOS, os.Environ(), cfg.InfiniRoot)
	if err != nil {
		return err
	}
	log.Info("Prepared command environment", zap.String("infini_root", env.Root))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg := tracing.DefaultConfig("testbot", cfg.OTELEndpoint)
	tracingCfg.Environment = cfg.Environment
	tracingCfg.SamplingRate = cfg.TracingSampleRate
	tp, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	driver := orchestrator.NewDriver(targets, orchestrator.Deps{
		Exec:      runner.NewShellRunner(),
		WorkDir:   cfg.WorkDir,
		Env:       env.Env,
		Backoff:   cfg.RetryBackoff,
		Recorders: st.recorders,
		Artifacts: st.artifacts,
	})

	if once {
		return driver.RunPass(ctx, "once")
	}
	return serve(ctx, cfg, log, driver, st, runOnStart)
}

// serve runs the daemon: schedule, optional API, optional leader election.
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, driver *orchestrator.Driver, st *stores, runOnStart bool) error {
	gin.SetMode(gin.ReleaseMode)

	core, err := scheduler.NewCore(cfg.Schedule, driver.RunPass)
	if err != nil {
		return err
	}

	nodeID, err := os.Hostname()
	if err != nil {
		nodeID = "testbot-" + uuid.New().String()
	}

	var coord coordination.Coordinator
	var election coordination.Election
	if len(cfg.EtcdEndpoints) > 0 {
		ec, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
		if err != nil {
			return err
		}
		defer ec.Close()
		coord = ec
		election = ec.NewElection(electionName)
		log.Info("Connected to etcd", zap.Strings("endpoints", cfg.EtcdEndpoints))
	}

	var server *api.Server
	if cfg.APIPort != "" {
		var jwt *auth.JWTService
		if cfg.JWTSecret != "" {
			jwt, err = auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))
			if err != nil {
				return err
			}
		} else {
			log.Warn("JWT_SECRET is not set, API authentication is disabled")
		}

		server = api.NewServer(api.Config{
			Port:     cfg.APIPort,
			History:  st.history,
			Trigger:  core,
			Targets:  driver.Targets(),
			JWT:      jwt,
			Election: election,
			NodeID:   nodeID,
		})
		go func() {
			if err := server.Start(); err != nil {
				log.Error("API server failed", zap.Error(err))
			}
		}()
	}

	if runOnStart {
		core.RunOnStart()
	}
	if coord != nil {
		err = coordination.Lead(ctx, coord, electionName, nodeID, core.Run)
	} else {
		err = core.Run(ctx)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	log.Info("Shutting down")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := server.Shutdown(shutdownCtx); serr != nil {
			log.Warn("API server shutdown failed", zap.Error(serr))
		}
	}
	core.Wait()
	log.Info("Shutdown complete")
	return err
}

// electionName is shared by every daemon firing the same schedule.
const electionName = "testbot-schedule"

func printToken(cfg *config.Config, roleName string) error {
	role, err := auth.ParseRole(roleName)
	if err != nil {
		return fmt.Errorf("unknown role %q", roleName)
	}
	svc, err := auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))
	if err != nil {
		return err
	}
	user, _ := os.Hostname()
	token, err := svc.GenerateToken(uuid.NewString(), "cli@"+user, role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
