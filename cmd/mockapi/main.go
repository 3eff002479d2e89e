// Command mockapi serves the storefront REST protocol from a local SQLite file. It stands in for
// the production backend during development: plain document CRUD, the scoped wishlist read,
// a change-notification stream at /events and Prometheus metrics at /metrics. The log level can be
// changed at runtime with PUT /debug/log-level?level=debug.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c0deZ3R0/go-storefront-sync/config"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/metrics"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
	"github.com/c0deZ3R0/go-storefront-sync/storage/sqlite"
	"github.com/c0deZ3R0/go-storefront-sync/transport/rest"
	"github.com/c0deZ3R0/go-storefront-sync/transport/sse"
)

const component = "mockapi"

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("STOREFRONT_CONFIG"), "YAML or JSON config file")
	addr := flag.String("addr", "", "listen address (overrides server.addr)")
	dbPath := flag.String("db", "", "SQLite file (overrides storage.sqlite_path)")
	seedPath := flag.String("seed", "", "JSON seed file, documents with an existing _id are skipped (overrides server.seed_file)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mockapi:", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Storage.SQLitePath = *dbPath
	}
	if *seedPath != "" {
		cfg.Server.SeedFile = *seedPath
	}

	base, level := logging.NewLoggerWithDynamicLevel(cfg.Log)
	slog.SetDefault(base.Logger)
	logger := base.WithComponent(component)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, level); err != nil {
		logger.Error("mockapi stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger, level *logging.DynamicLevelVar) error {
	dbConfig := sqlite.DefaultConfig(cfg.Storage.SQLitePath)
	dbConfig.Logger = logger
	db, err := sqlite.New(dbConfig)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Storage.SQLitePath, err)
	}
	defer db.Close()

	if cfg.Server.SeedFile != "" {
		if err := seed(ctx, db, cfg.Server.SeedFile, logger); err != nil {
			return err
		}
	}

	broker := sse.NewBroker(logger)
	defer broker.Close()

	collector := metrics.NewPrometheus()
	registerDocumentGauge(collector.Registry(), db, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newHandler(db, broker, collector, level, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.Server.Addr), slog.String("db", cfg.Storage.SQLitePath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// event streams never finish on their own
	broker.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHandler mounts the REST API, the metrics endpoint and, when level is set, the log level
// switch. Every API request is observed by collector under the "mockapi" component.
func newHandler(db *sqlite.DocumentStore, broker *sse.Broker, collector *metrics.Prometheus, level *logging.DynamicLevelVar, logger *logging.Logger) http.Handler {
	api := rest.NewServer(db, broker, logger)

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", collector.Handler())
	if level != nil {
		r.Put("/debug/log-level", setLogLevel(level, logger))
	}
	r.Mount("/", instrument(collector)(api))
	return r
}

func setLogLevel(level *logging.DynamicLevelVar, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("level")
		if !level.SetFromString(name) {
			http.Error(w, fmt.Sprintf("unknown level %q", name), http.StatusBadRequest)
			return
		}
		logger.Info("log level changed", slog.String("level", level.Level().String()))
		fmt.Fprintln(w, level.Level().String())
	}
}

func instrument(c metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			var err error
			if ww.Status() >= http.StatusInternalServerError {
				err = errors.New(http.StatusText(ww.Status()))
			}
			c.ObserveOperation(component, operation(r), time.Since(start), err)
		})
	}
}

// operation names a request by method and collection, e.g. "GET cart".
func operation(r *http.Request) string {
	segment := strings.Trim(r.URL.Path, "/")
	if i := strings.IndexByte(segment, '/'); i >= 0 {
		segment = segment[:i]
	}
	if !remote.ValidCollection(segment) {
		segment = "other"
	}
	return r.Method + " " + segment
}

func seed(ctx context.Context, db *sqlite.DocumentStore, path string, logger *logging.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	docs, err := rest.DecodeSeed(data)
	if err != nil {
		return fmt.Errorf("seed file %s: %w", path, err)
	}
	n, err := db.Seed(ctx, docs)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	logger.Info("seeded", slog.String("file", path), slog.Int("documents", n))
	return nil
}

// registerDocumentGauge reports the document count of every collection at scrape time.
func registerDocumentGauge(reg *prometheus.Registry, db *sqlite.DocumentStore, logger *logging.Logger) {
	for _, collection := range remote.Collections {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "storefront_documents",
			Help:        "Documents stored per collection.",
			ConstLabels: prometheus.Labels{"collection": collection},
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := db.Count(ctx, collection)
			if err != nil {
				logger.Warn("count documents", slog.String("collection", collection), slog.String("error", err.Error()))
				return 0
			}
			return float64(n)
		}))
	}
}
