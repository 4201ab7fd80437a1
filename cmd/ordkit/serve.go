package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-order-kit/storage/sqlite"
	"github.com/c0deZ3R0/go-order-kit/transport/httptransport"
	"github.com/c0deZ3R0/go-order-kit/transport/sse"
)

type serveOptions struct {
	addr        string
	db          string
	history     int
	keepAlive   time.Duration
	maxBodySize int64
}

func newServeCmd(a *app) *cobra.Command {
	o := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a SQLite-backed mutation authority over HTTP",
		Long: `Serves the move API at /moves, /moves/batch and /containers/{id}/items,
streams confirmed moves as Server-Sent Events at /events and exposes
Prometheus metrics at /metrics. PUT /log-level changes the log level.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, o)
		},
	}
	cmd.Flags().StringVar(&o.addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&o.db, "db", "file:ordkit.db", "SQLite data source")
	cmd.Flags().IntVar(&o.history, "event-history", 1024, "events kept for Last-Event-ID replay")
	cmd.Flags().DurationVar(&o.keepAlive, "keepalive", 15*time.Second, "event stream keepalive interval")
	cmd.Flags().Int64Var(&o.maxBodySize, "max-request-size", 10<<20, "maximum request body in bytes")
	return cmd
}

func (a *app) newServeMux(store *sqlite.Store, o serveOptions) (*http.ServeMux, *sse.Broker, error) {
	broker := sse.NewBroker(&sse.BrokerOptions{
		HistorySize: o.history,
		KeepAlive:   o.keepAlive,
		Logger:      a.logger,
	})
	backend := broker.Publishing(sqlite.NewAuthority(store))

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, nil, err
	}
	subscribers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "orderkit",
		Name:      "event_subscribers",
		Help:      "Connected event stream subscribers.",
	}, func() float64 { return float64(broker.Subscribers()) })
	if err := reg.Register(subscribers); err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/", httptransport.NewHandler(backend, a.logger, httptransport.WithMaxRequestSize(o.maxBodySize)))
	mux.Handle("GET /events", broker.Handler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	if a.level != nil {
		mux.HandleFunc("PUT /log-level", a.setLogLevel)
	}
	return mux, broker, nil
}

// setLogLevel changes the server's log level without a restart. The body is
// the level name.
func (a *app) setLogLevel(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	level := strings.TrimSpace(string(body))
	if !a.level.SetFromString(level) {
		http.Error(w, fmt.Sprintf("unknown log level %q", level), http.StatusBadRequest)
		return
	}
	a.logger.Info("log level changed", "level", a.level.Level())
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) serve(ctx context.Context, o serveOptions) error {
	store, err := a.openStore(o.db)
	if err != nil {
		return err
	}
	defer store.Close()

	mux, broker, err := a.newServeMux(store, o)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: o.addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		a.logger.InfoContext(ctx, "serving", slog.String("addr", o.addr), slog.String("db", o.db))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		broker.Close()
		return err
	case <-ctx.Done():
	}

	a.logger.InfoContext(ctx, "shutting down")
	broker.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
