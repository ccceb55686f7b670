package commands

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blikh/mikrotik-wg-meter/internal/api"
	"github.com/blikh/mikrotik-wg-meter/internal/config"
	"github.com/blikh/mikrotik-wg-meter/internal/enforce"
	"github.com/blikh/mikrotik-wg-meter/internal/geoip"
	"github.com/blikh/mikrotik-wg-meter/internal/poller"
	"github.com/blikh/mikrotik-wg-meter/internal/routeros"
	"github.com/blikh/mikrotik-wg-meter/internal/secrets"
	"github.com/blikh/mikrotik-wg-meter/internal/store"
	"github.com/blikh/mikrotik-wg-meter/internal/tracker"
)

const logo = `
                  _              _
 __ __ ____ _ ___| |_ ___ _ _ __| |
 \ V  V / _' |___| '  \/ -_)  _/ _' |
  \_/\_/\__, |   |_|_|_\___|\__\__,_|
        |___/  ~~ mikrotik-wg-meter ~~`

// Run starts the polling loop and the JSON API and blocks until
// SIGINT/SIGTERM.
func Run(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "configs/meterd.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(cfg.LogWriter(), &slog.HandlerOptions{Level: cfg.ParseLogLevel()}))

	fmt.Println(logo)
	logger.Info("starting mikrotik-wg-meter", "db", cfg.DBPath, "listen", cfg.Listen)

	box := secrets.NewBox(cfg.SecretKey)
	st, err := store.Open(cfg.DBPath, box, logger)
	if err != nil {
		logger.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var geo *geoip.Resolver
	if cfg.GeoIP.Path != "" {
		geo, err = geoip.Open(cfg.GeoIP.Path, time.Duration(cfg.GeoIP.Refresh)*time.Second, logger)
		if err != nil {
			// A broken GeoIP database only loses country annotations.
			logger.Warn("geoip disabled", "err", err)
		} else {
			defer geo.Close()
			geo.StartRefresh(ctx)
		}
	}

	if addr := cfg.Observability.Listen; addr != "" {
		mux := http.NewServeMux()
		// net/http/pprof registers on DefaultServeMux in its init.
		mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("starting observability server", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("observability server failed", "err", err)
			}
		}()
	}

	dial := func(r store.Router) (routeros.Client, error) {
		return routeros.NewClient(routeros.Profile{
			Host:      r.Host,
			Proto:     r.Proto,
			Port:      r.Port,
			Username:  r.Username,
			Password:  r.Password,
			TLSVerify: r.TLSVerify,
		})
	}

	tr := tracker.New()
	act := enforce.New(st, dial, logger)
	p := poller.New(st, tr, act, dial, logger)
	srv := api.New(st, tr, act, dial, geo, cfg.Listen, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- p.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx) }()

	if err := <-errCh; err != nil && ctx.Err() == nil {
		logger.Error("daemon error", "err", err)
		cancel()
		<-errCh
		os.Exit(1)
	}
	cancel()
	<-errCh
	logger.Info("shutdown complete")
}
