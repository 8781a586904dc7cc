package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"sykli/internal/config"
	"sykli/internal/core"
	"sykli/internal/daemon"
	"sykli/internal/events"
	"sykli/internal/mesh"
	"sykli/internal/target"
	"sykli/internal/target/local"
)

func newDaemonCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start, stop, or query the background daemon (cache GC, mesh participation).",
	}
	cmd.AddCommand(newDaemonStartCommand(g), newDaemonStopCommand(g), newDaemonStatusCommand(g))
	return cmd
}

func pidFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sykli", "daemon.pid"), nil
}

func newDaemonStartCommand(g *Globals) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := pidFilePath()
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("daemon start: %v", err)}
			}
			if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("daemon start: %v", err)}
			}

			cfg, err := config.Load()
			if err != nil {
				return &ExitError{Code: ExitConfigError, Message: fmt.Sprintf("daemon start: %v", err)}
			}

			r := daemon.Role(role)
			switch r {
			case daemon.RoleWorker, daemon.RoleCoordinator, daemon.RoleFull:
			default:
				return &ExitError{Code: ExitConfigError, Message: fmt.Sprintf("daemon start: invalid --role %q", role)}
			}

			sup := daemon.New(r, g.Log, pidPath, core.NewFileCache(g.CacheDir))

			caps := mesh.Discover(strings.Join(cfg.Labels, ","), runtime.NumCPU(), 0, mesh.ProbeDriver(cmd.Context()))
			bus := events.NewBus()

			sup.AddWorker(&daemon.Worker{
				Name:   "mesh-dispatch",
				Policy: daemon.RestartPermanent,
				Run: func(ctx context.Context) error {
					return runMeshDispatchServer(ctx, g, cfg.Port)
				},
			})

			sup.AddWorker(&daemon.Worker{
				Name:   "event-reporter",
				Policy: daemon.RestartPermanent,
				Run: func(ctx context.Context) error {
					return runReporter(ctx, g, bus, cfg.CoordinatorAddr)
				},
			})

			if r == daemon.RoleCoordinator || r == daemon.RoleFull {
				sup.AddWorker(&daemon.Worker{
					Name:   "coordinator",
					Policy: daemon.RestartPermanent,
					Run: func(ctx context.Context) error {
						return runCoordinator(ctx, g, cfg.CoordinatorAddr)
					},
				})
			}

			if err := sup.WritePIDFile(); err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("daemon start: %v", err)}
			}
			defer sup.RemovePIDFile()

			g.Log.WithField("role", r).
				WithField("labels", strings.Join(caps.Labels, ",")).
				WithField("driver_available", caps.DriverAvailable).
				Info("daemon starting")
			if err := sup.Run(cmd.Context()); err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("daemon start: %v", err)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "worker", "Daemon role: worker, coordinator, or full.")
	return cmd
}

// runMeshDispatchServer listens on port and serves the mesh Dispatcher
// service over this node's local target, so remote peers can hand it
// tasks. It runs until ctx is cancelled.
func runMeshDispatchServer(ctx context.Context, g *Globals, port int) error {
	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("daemon: listening for mesh dispatch: %w", err)
	}
	gs := grpc.NewServer()
	mesh.RegisterServer(gs, mesh.NewServer(localExecutor{workdir: g.ProjectRoot}))

	errc := make(chan error, 1)
	go func() { errc <- gs.Serve(lis) }()

	select {
	case <-ctx.Done():
		gs.GracefulStop()
		return nil
	case err := <-errc:
		return err
	}
}

// localExecutor adapts target.Target's RunTask to mesh.Executor's plain
// byte-in/byte-out signature for remote dispatch.
type localExecutor struct {
	workdir string
}

func (l localExecutor) RunTask(ctx context.Context, task core.Task, workdir string, env map[string]string) ([]byte, []byte, int, error) {
	tgt := local.New(workdir, env)
	state, err := tgt.Setup(ctx, target.Options{})
	if err != nil {
		return nil, nil, 0, err
	}
	defer tgt.Teardown(ctx, state)

	result, err := tgt.RunTask(ctx, task, state, target.RunOptions{})
	if result == nil {
		return nil, nil, 0, err
	}
	return result.Stdout, result.Stderr, result.ExitCode, err
}

// runReporter forwards this node's events to the coordinator until ctx is
// cancelled. With no coordinator address configured it falls back to the
// default local NATS endpoint; a connection failure just means events
// accumulate in the Reporter's bounded buffer while the connection is
// retried every five seconds until one succeeds. Once connected, dropped
// connections are left to the NATS client's own reconnect handling.
func runReporter(ctx context.Context, g *Globals, bus *events.Bus, coordinatorAddr string) error {
	nodeName, err := os.Hostname()
	if err != nil || nodeName == "" {
		nodeName = "unknown-node"
	}
	reporter := events.NewReporter(nodeName, g.Log)
	if coordinatorAddr == "" {
		coordinatorAddr = nats.DefaultURL
	}
	connected := true
	if err := reporter.Connect(coordinatorAddr); err != nil {
		connected = false
		g.Log.WithError(err).Warn("daemon: coordinator unreachable, buffering events")
	}
	defer reporter.Close()

	ch, unsubscribe := bus.Subscribe("all")
	defer unsubscribe()

	retry := time.NewTicker(5 * time.Second)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retry.C:
			if !connected && reporter.Connect(coordinatorAddr) == nil {
				connected = true
			}
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			reporter.Report(ev)
		}
	}
}

// runCoordinator runs the aggregate coordinator's NATS listener and bbolt
// history store until ctx is cancelled. It connects to the shared NATS
// broker as an ordinary client, the same one every node's Reporter
// publishes to.
func runCoordinator(ctx context.Context, g *Globals, natsAddr string) error {
	dbPath := filepath.Join(g.CacheDir, "coordinator.db")
	coord, err := events.NewCoordinator(dbPath, 0)
	if err != nil {
		return fmt.Errorf("daemon: starting coordinator: %w", err)
	}
	defer coord.Close()

	if natsAddr == "" {
		natsAddr = nats.DefaultURL
	}
	nc, err := nats.Connect(natsAddr)
	if err != nil {
		g.Log.WithError(err).Warn("daemon: coordinator running without a nats listener")
		<-ctx.Done()
		return nil
	}
	defer nc.Close()

	sub, err := coord.Listen(nc, g.Log)
	if err != nil {
		return fmt.Errorf("daemon: subscribing coordinator: %w", err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}

func newDaemonStopCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running daemon to terminate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := pidFilePath()
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("daemon stop: %v", err)}
			}
			pid, err := daemon.ReadPID(pidPath)
			if err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: "daemon stop: not running"}
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("daemon stop: %v", err)}
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("daemon stop: %v", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent SIGTERM to pid %d\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := pidFilePath()
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("daemon status: %v", err)}
			}
			pid, err := daemon.ReadPID(pidPath)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "not running")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "running (pid %d)\n", pid)
			return nil
		},
	}
}
