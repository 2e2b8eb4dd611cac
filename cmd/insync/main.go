// Command insync is the InSync terminal client: a Bubble Tea UI over the
// InSync REST API with realtime notifications, plus a few headless
// subcommands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nhle/insync/internal/api"
	"github.com/nhle/insync/internal/cache"
	"github.com/nhle/insync/internal/credential"
	"github.com/nhle/insync/internal/ingest"
	"github.com/nhle/insync/internal/logging"
	"github.com/nhle/insync/internal/metrics"
	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/realtime"
	"github.com/nhle/insync/internal/reconcile"
	"github.com/nhle/insync/internal/session"
	appsync "github.com/nhle/insync/internal/sync"
)

const usage = `usage: insync [-config PATH] [command]

commands:
  (none)          start the terminal UI
  login -u USER   sign in; the password is read from the terminal
  logout          forget the stored session
  host HOST       point the client at HOST and save it to the config file
  watch           log incoming notifications until interrupted
  status          print the session state and unread count
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "insync:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("insync", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", model.DefaultConfigPath(), "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	cmd, rest := "", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}
	switch cmd {
	case "", "login", "logout", "watch", "status":
	case "host":
		return setHost(cfg, *configPath, rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	// The UI owns the terminal, so it always logs to the file. Headless
	// commands log to stderr.
	logFile := ""
	if cmd == "" {
		logFile = cfg.Log.File
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, logFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "":
		return a.runUI()
	case "login":
		return a.login(ctx, rest)
	case "logout":
		return a.logout()
	case "watch":
		return a.watch(ctx)
	default:
		return a.status(ctx)
	}
}

// application holds the wired services.
type application struct {
	cfg        *model.AppConfig
	log        *zap.Logger
	metrics    *metrics.Collectors
	session    *session.Store
	client     *api.Client
	cache      cache.Store
	reconciler *reconcile.Reconciler
	pipeline   *appsync.Pipeline
}

func newApplication(ctx context.Context, cfg *model.AppConfig, log *zap.Logger) (*application, error) {
	ring, err := credential.OpenKeyring(model.ConfigDir())
	if err != nil {
		return nil, err
	}
	return assemble(ctx, cfg, log, credential.NewKeyringStore(ring))
}

// assemble wires the services around tokens.
func assemble(ctx context.Context, cfg *model.AppConfig, log *zap.Logger, tokens credential.TokenStore) (*application, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Error("metrics listener", zap.Error(err))
			}
		}()
	}

	// The client reads the token back through the session, which needs
	// the client to fetch the profile.
	var sess *session.Store
	client := api.NewClient(cfg.API.BaseURL(), func() string { return sess.BearerToken() }, cfg.API.Timeout(),
		api.WithMetrics(m),
		api.WithLogger(log),
	)
	sess, err := session.New(tokens, client, session.WithLogger(log))
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(cfg.Cache)
	if err != nil {
		return nil, err
	}
	rec := reconcile.New(store, client, m, log)

	ch := realtime.NewChannel(cfg.API.SocketBaseURL(), realtime.WebsocketDialer{},
		realtime.WithReconnectInterval(cfg.Realtime.ReconnectInterval()),
		realtime.WithWriteTimeout(cfg.Realtime.WriteTimeout()),
		realtime.WithLogger(log),
		realtime.WithMetrics(m),
	)
	dec, err := ingest.NewDecoder()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	p := appsync.New(ch, ingest.NewIngestor(ch, dec, m, log), rec, log)
	sess.OnLogout(p.Forget)

	return &application{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		session:    sess,
		client:     client,
		cache:      store,
		reconciler: rec,
		pipeline:   p,
	}, nil
}

func (a *application) close() {
	a.pipeline.Close()
	if err := a.cache.Close(); err != nil {
		a.log.Warn("closing cache", zap.Error(err))
	}
}
