package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/semihalev/zlog/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/papernet/papergw/agent"
	"github.com/papernet/papergw/api"
	"github.com/papernet/papergw/bootstrap"
	"github.com/papernet/papergw/bridge"
	"github.com/papernet/papergw/cache"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/loader"
	"github.com/papernet/papergw/middleware"
	"github.com/papernet/papergw/middleware/accesslog"
	"github.com/papernet/papergw/middleware/admission"
	"github.com/papernet/papergw/middleware/gwcache"
	"github.com/papernet/papergw/middleware/metrics"
	"github.com/papernet/papergw/middleware/recovery"
	"github.com/papernet/papergw/middleware/resolver"
	"github.com/papernet/papergw/nameserver"
	"github.com/papernet/papergw/server"
	"github.com/papernet/papergw/source"
)

const version = "0.4.0"

var (
	flagcfgpath  = flag.String("config", "papergw.conf", "location of the config file, if config file not found, a config will generate")
	flagprintver = flag.Bool("v", false, "show version information")

	cfg *config.Config
)

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Example:")
		fmt.Fprintf(os.Stderr, "%s -config=papergw.conf\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "")
	}
}

func setup() {
	var err error

	if cfg, err = config.Load(*flagcfgpath, version); err != nil {
		zlog.Error("Config loading failed", "error", err.Error())
		os.Exit(1)
	}

	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	logger.SetLevel(logLevel(cfg.LogLevel))
	zlog.SetDefault(logger)
}

func logLevel(s string) zlog.Level {
	switch s {
	case "debug":
		return zlog.LevelDebug
	case "warn":
		return zlog.LevelWarn
	case "error":
		return zlog.LevelError
	default:
		return zlog.LevelInfo
	}
}

func run(ctx context.Context) (stop func()) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		zlog.Error("Data directory unusable", "dir", cfg.DataDir, "error", err.Error())
		os.Exit(1)
	}

	db, err := leveldb.OpenFile(filepath.Join(cfg.DataDir, "gateway.db"), nil)
	if err != nil {
		zlog.Error("State database open failed", "dir", cfg.DataDir, "error", err.Error())
		os.Exit(1)
	}

	br := bridge.New(cfg.BridgeTimeout.Duration)
	respCache := cache.New(cfg.CacheSize, cfg.CacheTTL.Duration)

	adm := admission.New(cfg)

	handlers := []middleware.Handler{
		recovery.New(cfg),
		accesslog.New(cfg),
		metrics.New(cfg),
		adm,
		gwcache.New(cfg, respCache),
		resolver.New(cfg, br),
	}

	slot := new(agent.Slot)
	registry := source.NewRegistry(cfg)

	ld := loader.New(cfg, slot, agent.Deps{
		Cfg:      cfg,
		Bridge:   br,
		Cache:    respCache,
		DB:       db,
		Handlers: handlers,
	})

	orch := bootstrap.New(cfg, registry, ld, slot)

	go func() {
		if _, err := orch.Bootstrap(ctx); err != nil {
			zlog.Error("Initial bootstrap failed", "error", err.Error())
		}
	}()

	srv := server.New(cfg, slot)
	srv.Run()

	if cfg.NameserverBind != "" {
		ns := nameserver.New(cfg, slot)
		ns.Run()
	}

	ctl := api.New(cfg, adm, registry, orch, slot, br, respCache)
	ctl.Run()

	watcher := watchBlocklist(cfg, adm)

	return func() {
		if watcher != nil {
			_ = watcher.Close()
		}

		if ag := slot.Active(); ag != nil {
			if n, err := ag.ExportCache(); err != nil {
				zlog.Error("Cache export failed", "error", err.Error())
			} else {
				zlog.Info("Response cache exported", "entries", n)
			}
		}

		slot.Deactivate()
		adm.Stop()
		respCache.Stop()
		br.Stop()
		_ = db.Close()
	}
}

func main() {
	flag.Parse()

	if *flagprintver {
		println("papergw v" + version)
		os.Exit(0)
	}

	setup()

	zlog.Info("Starting papergw...", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	stop := run(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	<-c

	zlog.Info("Stopping papergw...")

	cancel()
	stop()
}
