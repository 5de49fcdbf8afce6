// Command weft-host runs a headless host: it connects to the development
// server, evaluates the program bundle, and keeps the native view tree in
// sync with the script-side virtual tree. With -serve it instead runs the
// loopback development server, pushing the bundle file to connected hosts
// whenever it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/weftui/weft/internal/bridge"
	"github.com/weftui/weft/internal/config"
	"github.com/weftui/weft/internal/devserver"
	"github.com/weftui/weft/internal/event"
	"github.com/weftui/weft/internal/overlay"
	"github.com/weftui/weft/internal/reload"
	"github.com/weftui/weft/internal/script"
	"github.com/weftui/weft/internal/script/builtin"
	"github.com/weftui/weft/internal/uiloop"
	"github.com/weftui/weft/internal/view"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serveFile   = flag.String("serve", "", "run the development server pushing this bundle file")
		addr        = flag.String("addr", "127.0.0.1:8792", "development server listen address (loopback only)")
		serverURL   = flag.String("server", "", "override the push-channel URL")
		bundleURL   = flag.String("bundle", "", "override the bundle fetch URL")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("weft-host " + version)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	schema := config.DefaultSchema()
	logger := buildLogger(cfg, schema)
	for _, w := range cfg.GetWarnings() {
		logger.Warn("configuration", "warning", w)
	}

	if *serveFile != "" {
		return runServer(logger, *serveFile, *addr)
	}

	if *serverURL == "" {
		*serverURL = schema.Resolve(cfg, "server.url")
	}
	if *bundleURL == "" {
		*bundleURL = schema.Resolve(cfg, "bundle.url")
	}
	return runHost(cfg, schema, logger, *serverURL, *bundleURL)
}

// runHost wires the full pipeline and blocks until interrupted.
func runHost(cfg *config.Config, schema *config.ConfigSchema, logger *slog.Logger, serverURL, bundleURL string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataDir, err := config.DataDir()
	if err != nil {
		return fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	storageDir := schema.Resolve(cfg, "storage.dir")
	if storageDir == "" {
		storageDir = filepath.Join(dataDir, "storage")
	}
	cacheFile := schema.Resolve(cfg, "cache.file")
	if cacheFile == "" {
		cacheFile = filepath.Join(dataDir, "bundle.lkg.js")
	}
	devMode := parseBoolDefault(schema.Resolve(cfg, "dev.enabled"), true)

	factories := view.NewRegistry()
	view.HostCatalog(factories)

	nodes := bridge.NewRegistry(func(root view.Handle) {
		if root == nil {
			logger.Info("root view detached")
			return
		}
		logger.Info("root view bound")
	}, logger)

	loop := uiloop.New(logger)
	if err := loop.Start(); err != nil {
		return fmt.Errorf("start ui loop: %w", err)
	}
	defer loop.Stop()

	callbacks := event.NewCallbacks(logger)
	dispatcher := event.NewDispatcher(callbacks, logger)
	sink := func(nodeID int64, eventName string, payload map[string]any) {
		dispatcher.Dispatch(loop.Generation(), nodeID, eventName, payload)
	}
	processor := bridge.NewProcessor(nodes, factories, sink, cfg.Throttle, logger)

	modules := script.NewNativeModules()
	modules.Register("device", &script.DeviceModule{})

	var ov overlay.Overlay = overlay.Nop{}
	if devMode {
		ov = overlay.NewLogOverlay(logger)
	}

	coordinator := reload.NewCoordinator(reload.Options{
		Loop:       loop,
		Processor:  processor,
		Dispatcher: dispatcher,
		NewEngine: reload.StandardEngineFactory(loop, processor, dispatcher, modules,
			builtin.Options{StorageDir: storageDir, Logger: logger}, logger),
		Overlay: ov,
		Cache:   reload.NewCache(cacheFile, "", logger),
		Logger:  logger,
	})
	defer coordinator.Close()

	logger.Info("connecting", "server", serverURL, "bundle", bundleURL)
	if err := coordinator.Connect(ctx, serverURL, bundleURL); err != nil {
		// A dead server is survivable when a cached program loaded; a host
		// with no program at all is not.
		if coordinator.Engine() == nil {
			return fmt.Errorf("no program to run: %w", err)
		}
		logger.Warn("running without live reload", "error", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// runServer serves bundleFile on addr, pushing to connected hosts whenever
// the file changes.
func runServer(logger *slog.Logger, bundleFile, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("development server must listen on loopback, not %q", host)
	}

	bundle, err := os.ReadFile(bundleFile)
	if err != nil {
		return fmt.Errorf("read bundle file: %w", err)
	}
	srv := devserver.NewServer(string(bundle), logger)
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{Addr: addr, Handler: srv}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("development server listening", "addr", addr, "bundle", bundleFile)
		errCh <- httpSrv.ListenAndServe()
	}()

	go watchBundle(ctx, logger, srv, bundleFile)

	select {
	case err := <-errCh:
		return fmt.Errorf("development server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// watchBundle polls the bundle file and pushes it on change.
func watchBundle(ctx context.Context, logger *slog.Logger, srv *devserver.Server, bundleFile string) {
	var lastMod time.Time
	if fi, err := os.Stat(bundleFile); err == nil {
		lastMod = fi.ModTime()
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		fi, err := os.Stat(bundleFile)
		if err != nil || !fi.ModTime().After(lastMod) {
			continue
		}
		lastMod = fi.ModTime()
		bundle, err := os.ReadFile(bundleFile)
		if err != nil {
			logger.Warn("bundle file unreadable", "error", err)
			continue
		}
		logger.Info("bundle changed; pushing", "bytes", len(bundle))
		srv.Push(string(bundle))
	}
}

// buildLogger returns a logger writing to stderr at the configured level,
// mirrored into the in-memory diagnostic ring.
func buildLogger(cfg *config.Config, schema *config.ConfigSchema) *slog.Logger {
	level := parseLevel(schema.Resolve(cfg, "log.level"))
	bufSize := 1000
	if n := cfg.GetInt("log.buffer-size"); n > 0 {
		bufSize = n
	}
	devLog := overlay.NewDevLog(bufSize)
	stderr := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(fanoutHandler{stderr, devLog})
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func parseBoolDefault(s string, def bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return def
}

// fanoutHandler duplicates records across handlers. Enabled when any
// member is; each member still applies its own level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
