package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mudforge/gate/internal/backend"
	"github.com/mudforge/gate/internal/bus"
	"github.com/mudforge/gate/internal/config"
	"github.com/mudforge/gate/internal/frontend"
	"github.com/mudforge/gate/internal/session"
	"github.com/mudforge/gate/internal/telnet"
)

const defaultConfigPath = "config/gate.yaml"

func main() {
	var (
		configPath = flag.String("c", defaultConfigPath, "config file path")
		debug      = flag.Bool("d", false, "debug logging")

		noTelnet    = flag.Bool("t", false, "disable the telnet listener")
		noTelnetTLS = flag.Bool("st", false, "disable the secure telnet listener")
		noSSH       = flag.Bool("s", false, "disable the ssh listener")

		telnetPort    = flag.Int("tp", 0, "telnet port override")
		telnetTLSPort = flag.Int("stp", 0, "secure telnet port override")
		sshPort       = flag.Int("sp", 0, "ssh port override")
		wsPort        = flag.Int("wsp", 0, "backend websocket port override")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	if *debug {
		cfg.Debug = true
	}
	if *noTelnet {
		cfg.Telnet.Enabled = false
	}
	if *noTelnetTLS {
		cfg.TelnetTLS.Enabled = false
	}
	if *noSSH {
		cfg.SSH.Enabled = false
	}
	if *telnetPort != 0 {
		cfg.Telnet.Port = *telnetPort
	}
	if *telnetTLSPort != 0 {
		cfg.TelnetTLS.Port = *telnetTLSPort
	}
	if *sshPort != 0 {
		cfg.SSH.Port = *sshPort
	}
	if *wsPort != 0 {
		cfg.Backend.Port = *wsPort
	}

	if err := run(ctx, cfg); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	slog.Info("gate starting",
		"telnet", cfg.Telnet.Enabled,
		"telnet_tls", cfg.TelnetTLS.Enabled,
		"ssh", cfg.SSH.Enabled,
		"backend", cfg.Backend.Addr())

	upstream := bus.NewUpstream()
	registry := session.NewRegistry(cfg.Backend.Secret, upstream)

	status := &telnet.Status{
		Name:      cfg.MSSP.Name,
		Codebase:  cfg.MSSP.Codebase,
		Contact:   cfg.MSSP.Contact,
		Location:  cfg.MSSP.Location,
		StartedAt: time.Now(),
		Players:   registry.LoggedInCount,
	}
	if cfg.Telnet.Enabled {
		status.Ports = append(status.Ports, cfg.Telnet.Port)
	}
	if cfg.SSH.Enabled {
		status.Ports = append(status.Ports, cfg.SSH.Port)
	}
	if cfg.TelnetTLS.Enabled {
		status.Ports = append(status.Ports, cfg.TelnetTLS.Port)
	}
	handler := telnet.NewHandler(status)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Telnet.Enabled {
		srv := frontend.NewTelnetServer(cfg.Telnet, registry, handler)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("telnet server: %w", err)
			}
			return nil
		})
	}

	if cfg.TelnetTLS.Enabled {
		srv, err := frontend.NewTelnetTLSServer(cfg.TelnetTLS, registry, handler)
		if err != nil {
			return fmt.Errorf("creating secure telnet server: %w", err)
		}
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("secure telnet server: %w", err)
			}
			return nil
		})
	}

	if cfg.SSH.Enabled {
		srv, err := frontend.NewSSHServer(cfg.SSH, registry)
		if err != nil {
			return fmt.Errorf("creating ssh server: %w", err)
		}
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("ssh server: %w", err)
			}
			return nil
		})
	}

	ws := backend.NewServer(cfg.Backend, registry, upstream)
	g.Go(func() error {
		if err := ws.Run(gctx); err != nil {
			return fmt.Errorf("backend endpoint: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("gate stopped")
	return nil
}
