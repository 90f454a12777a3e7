// Command dbc is a small command-line front end for the DeathByCaptcha client.
//
//	dbc [flags] balance
//	dbc [flags] user
//	dbc [flags] solve <image>...
//	dbc [flags] status <id>
//	dbc [flags] report <id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	dbc "github.com/anatolykoptev/go-dbc"
	"github.com/anatolykoptev/go-dbc/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment")
	}

	opts, err := parseFlags(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		slog.Error("command failed", slog.String("cmd", opts.command), slog.Any("error", err))
		os.Exit(1)
	}
}

type options struct {
	creds       dbc.Credentials
	socket      bool
	timeout     time.Duration
	concurrency int
	metricsAddr string
	verbose     bool
	command     string
	args        []string
}

func parseFlags(argv []string, getenv func(string) string) (*options, error) {
	fs := flag.NewFlagSet("dbc", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	o := &options{}
	user := fs.String("user", getenv("DBC_USERNAME"), "account username")
	pass := fs.String("pass", getenv("DBC_PASSWORD"), "account password")
	token := fs.String("token", getenv("DBC_AUTHTOKEN"), "auth token (overrides user/pass)")
	fs.BoolVar(&o.socket, "socket", false, "use the socket transport")
	fs.DurationVar(&o.timeout, "timeout", -1, "solve timeout (negative uses the client default)")
	fs.IntVar(&o.concurrency, "concurrency", 4, "parallel solves")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	if fs.NArg() == 0 {
		return nil, errors.New("usage: dbc [flags] balance|user|solve|status|report")
	}
	o.command, o.args = fs.Arg(0), fs.Args()[1:]

	if *token != "" {
		o.creds = dbc.TokenCredentials(*token)
	} else {
		o.creds = dbc.Credentials{Username: *user, Password: *pass}
	}
	if err := o.creds.Validate(); err != nil {
		return nil, err
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}

	switch o.command {
	case "balance", "user":
	case "solve":
		if len(o.args) == 0 {
			return nil, errors.New("solve: no images given")
		}
	case "status", "report":
		if len(o.args) != 1 {
			return nil, fmt.Errorf("%s: expected one captcha id", o.command)
		}
		if _, err := parseID(o.args[0]); err != nil {
			return nil, fmt.Errorf("%s: %w", o.command, err)
		}
	default:
		return nil, fmt.Errorf("unknown command %q", o.command)
	}
	return o, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid captcha id %q", s)
	}
	return id, nil
}

// newClient is replaced in tests.
var newClient = dbc.NewClient

func run(ctx context.Context, o *options, out io.Writer) error {
	cfg := dbc.Config{Credentials: o.creds}
	if o.socket {
		cfg.Transport = dbc.TransportSocket
	}
	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		cfg.MetricsHook = m.Hook
		cfg.WaitHook = m.ObserveWait
		ms, err := startMetrics(o.metricsAddr, reg)
		if err != nil {
			return err
		}
		defer ms.shutdown()
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	switch o.command {
	case "balance":
		bal, err := client.Balance(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%.3f\n", bal)
	case "user":
		u, err := client.User(ctx)
		if err != nil {
			return err
		}
		if u == nil {
			return errors.New("no account record")
		}
		fmt.Fprintf(out, "id=%d balance=%.3f banned=%t\n", u.ID, u.BalanceCents, u.IsBanned)
	case "status":
		id, _ := parseID(o.args[0])
		h, err := client.Captcha(ctx, id)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("captcha %d not found", id)
		}
		fmt.Fprintf(out, "id=%d solved=%t correct=%t text=%q\n", h.ID(), h.Solved(), h.Job().IsCorrect, h.Text())
	case "report":
		id, _ := parseID(o.args[0])
		ok, err := client.Report(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "reported=%t\n", ok)
	case "solve":
		return solveAll(ctx, client, o, out)
	}
	return nil
}

// solveAll decodes every image, at most o.concurrency at a time. Results are
// printed in argument order.
func solveAll(ctx context.Context, client *dbc.Client, o *options, out io.Writer) error {
	results := make([]string, len(o.args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, path := range o.args {
		g.Go(func() error {
			job, err := client.Decode(gctx, dbc.ParseImage(path), nil, o.timeout)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if job == nil {
				results[i] = fmt.Sprintf("%s\t-\t(timeout)", path)
				return nil
			}
			results[i] = fmt.Sprintf("%s\t%d\t%s", path, job.ID, job.Text)
			return nil
		})
	}
	err := g.Wait()
	for _, r := range results {
		if r != "" {
			fmt.Fprintln(out, r)
		}
	}
	return err
}

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// startMetrics serves reg on addr until shutdown is called.
func startMetrics(addr string, reg *prometheus.Registry) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	ms := &metricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout},
		ln:  ln,
	}
	slog.Info("metrics server started", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return ms, nil
}

func (m *metricsServer) addr() string { return m.ln.Addr().String() }

func (m *metricsServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		slog.Warn("metrics server shutdown", slog.Any("error", err))
	}
}
