package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	httpserver "pitrdb/internal/http"
	"pitrdb/pkg/cluster"
	"pitrdb/pkg/command"
	"pitrdb/pkg/metrics"
	"pitrdb/pkg/pitr"
	"pitrdb/pkg/plugins/example"
	"pitrdb/pkg/progress"
	"pitrdb/pkg/replset"
	"pitrdb/pkg/store"
	"pitrdb/pkg/stream"
)

type iMembership interface {
	Members() []cluster.Member
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("pitrdb failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	initLogger(&cfg)

	st, err := store.Open(store.Options{
		Dir:           cfg.Node.DataDir,
		SyncInterval:  cfg.Oplog.SyncInterval,
		MaxEntryBytes: cfg.Node.MaxEntryBytes,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("close store", "error", err)
		}
	}()

	last, _ := st.Last()
	prog := progress.New(last)

	initial, err := replset.ParseMemberState(cfg.Node.InitialState)
	if err != nil {
		return err
	}
	state := replset.NewState(initial, nil)

	self := func() cluster.Member {
		return cluster.Member{Addr: cfg.Node.Addr, State: state.Current(), LastGTID: prog.LiveState(), Known: true}
	}

	g, gctx := errgroup.WithContext(ctx)

	var members iMembership
	if len(cfg.Membership.ZKServers) > 0 {
		zkm, err := cluster.NewZKMembership(cfg.Membership.ZKServers, cfg.Membership.RootPath, cfg.Node.Addr, nil)
		if err != nil {
			return err
		}
		defer zkm.Close()
		if err := zkm.RegisterSelf(self()); err != nil {
			return fmt.Errorf("register in zookeeper: %w", err)
		}
		g.Go(func() error {
			return zkm.RunWatch(gctx, cfg.Membership.RefreshInterval)
		})
		g.Go(func() error {
			return cluster.RunPublisher(gctx, zkm, cfg.Membership.PublishInterval, self)
		})
		members = zkm
	} else {
		members = cluster.NewStaticMembership(cfg.Membership.Peers)
	}

	engine := pitr.NewEngine(cfg.PITR(), pitr.Deps{
		Modes:    state,
		Selector: cluster.NewSelector(cfg.Node.Addr, members, prog, nil),
		Dial:     pitr.HTTPDialer(stream.NewDialer(cfg.Recovery.DialTimeout, nil)),
		Progress: prog,
		Txns:     st,
	})

	registry := command.NewRegistry()
	catalog := command.Catalog{
		pitr.PluginName:    pitr.Plugin(engine),
		example.PluginName: example.Plugin(st),
	}
	cmds := append(command.Builtins(registry, catalog), replset.Commands(cfg.Node.Addr, state, prog)...)
	for _, c := range cmds {
		if err := registry.Add(c); err != nil {
			return err
		}
	}
	for _, name := range catalog.Names() {
		if err := registry.LoadPlugin(catalog[name]); err != nil {
			return err
		}
	}

	server := httpserver.NewServer(st, state, command.NewDispatcher(registry, nil, nil), command.NewTokenAuth(cfg.Auth.Tokens), httpserver.Options{
		Port:            cfg.HTTPServer.Port,
		Term:            cfg.Node.Term,
		BigTxnOps:       cfg.Oplog.BigTxnOps,
		ShutdownTimeout: cfg.HTTPServer.ShutdownTimeout,
		Metrics:         metrics.Default().Handler(),
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	slog.Info("pitrdb started",
		"addr", cfg.Node.Addr,
		"state", state.Current(),
		"live", prog.LiveState(),
		"plugins", len(registry.Plugins()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("pitrdb stopped")
	return nil
}

