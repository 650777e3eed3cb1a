// Command h2d is the h2d-project HTTP/2 server: a supervisor process
// that forks one reactor per worker, each running an independent
// epoll event loop over a shared SO_REUSEPORT listener.
//
// Flags are parsed with the standard library's flag package, no
// third-party CLI framework.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	http2 "github.com/h2d-project/h2d"
	"github.com/h2d-project/h2d/internal/levellog"
	"github.com/h2d-project/h2d/internal/reactor"
	"github.com/h2d-project/h2d/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	host           string
	port           int
	maxConnections int
	workers        int
	useTLS         bool
	cert           string
	key            string
	logLevel       string

	autocertHost     string
	autocertCacheDir string

	reactorIndex int
}

func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet("h2d", flag.ContinueOnError)

	f := &flags{}

	fs.Usage = func() { fmt.Fprint(fs.Output(), helpText()) }

	fs.StringVar(&f.host, "host", "0.0.0.0", "listen address")
	fs.StringVar(&f.host, "h", "0.0.0.0", "listen address (shorthand)")
	fs.IntVar(&f.port, "port", 8080, "listen port")
	fs.IntVar(&f.port, "p", 8080, "listen port (shorthand)")
	fs.IntVar(&f.maxConnections, "max-connections", 1024, "advisory cap on concurrent connections per reactor")
	fs.IntVar(&f.maxConnections, "m", 1024, "advisory cap on concurrent connections per reactor (shorthand)")
	fs.IntVar(&f.workers, "workers", runtime.NumCPU(), "number of reactor processes (default: one per CPU)")
	fs.IntVar(&f.workers, "w", runtime.NumCPU(), "number of reactor processes (shorthand)")
	fs.BoolVar(&f.useTLS, "tls", false, "enable TLS (requires --cert and --key, or --autocert-host)")
	fs.StringVar(&f.cert, "cert", "", "TLS certificate path")
	fs.StringVar(&f.key, "key", "", "TLS key path")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug|info|warn|error|none")
	fs.StringVar(&f.autocertHost, "autocert-host", "", "hostname to obtain an ACME-managed certificate for")
	fs.StringVar(&f.autocertCacheDir, "autocert-cache-dir", "./certs", "directory ACME certificates are cached in")
	fs.IntVar(&f.reactorIndex, "reactor-index", -1, "internal: reactor slot index, set by the supervisor on re-exec")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if f.useTLS && (f.cert != "" || f.key != "") && f.autocertHost != "" {
		return nil, fmt.Errorf("h2d: --cert/--key and --autocert-host are mutually exclusive")
	}

	return f, nil
}

func run() error {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return nil
		}

		return err
	}

	logger := levellog.New(levellog.ParseLevel(f.logLevel), "[h2d] ")

	if f.reactorIndex >= 0 {
		return runReactor(f, logger)
	}

	return runSupervisor(f, logger)
}

// runSupervisor is the parent process: it resolves certificate paths,
// forks one reactor child per worker (re-exec of this same binary, a
// -reactor-index appended to its arguments), and waits for either a
// shutdown signal or every child to exit.
func runSupervisor(f *flags, logger *levellog.Logger) error {
	if f.autocertHost != "" {
		if err := provisionAutocert(f); err != nil {
			return fmt.Errorf("h2d: autocert: %w", err)
		}
	}

	cfg := supervisor.Config{
		Workers:  f.workers,
		CertPath: f.cert,
		KeyPath:  f.key,
		Args:     os.Args[1:],
		Logger:   logger,
	}

	return supervisor.Run(context.Background(), cfg)
}

// runReactor is what a re-exec'd child actually does: run a single
// epoll reactor bound to the shared SO_REUSEPORT listener until its
// process is signaled.
func runReactor(f *flags, logger *levellog.Logger) error {
	var tlsConfig *tls.Config

	if f.useTLS {
		cfg, err := loadTLSConfig(f)
		if err != nil {
			return fmt.Errorf("h2d: reactor %d: %w", f.reactorIndex, err)
		}

		tlsConfig = cfg
	}

	r, err := reactor.New(reactor.Options{
		Host:           f.host,
		Port:           f.port,
		TLSConfig:      tlsConfig,
		MaxConnections: f.maxConnections,
		Logger:         logger,
		NewHandler: func() *http2.Handler {
			return http2.NewHandler(http2.DefaultRequestHandler, defaultMaxConcurrentStreams)
		},
	})
	if err != nil {
		return err
	}

	defer r.Close()

	logger.Infof("reactor %d listening on %s:%d", f.reactorIndex, f.host, f.port)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	signal.Ignore(syscall.SIGPIPE)

	stop := make(chan struct{})

	go func() {
		<-ctx.Done()
		close(stop)
	}()

	return r.Run(stop)
}

const defaultMaxConcurrentStreams = 100

func loadTLSConfig(f *flags) (*tls.Config, error) {
	if f.autocertHost != "" {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(f.autocertHost),
			Cache:      autocert.DirCache(f.autocertCacheDir),
		}

		return &tls.Config{
			GetCertificate: m.GetCertificate,
			NextProtos:     []string{"h2", acme.ALPNProto},
		}, nil
	}

	if f.cert == "" || f.key == "" {
		return nil, fmt.Errorf("--tls requires both --cert and --key, or --autocert-host")
	}

	cert, err := tls.LoadX509KeyPair(f.cert, f.key)
	if err != nil {
		return nil, fmt.Errorf("loading cert/key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2"},
	}, nil
}

// provisionAutocert runs once, in the supervisor, before any reactor
// child is forked — TLS's one-time global init belongs before fork.
func provisionAutocert(f *flags) error {
	if _, err := os.Stat(f.autocertCacheDir); os.IsNotExist(err) {
		return os.MkdirAll(f.autocertCacheDir, 0o700)
	}

	return nil
}

// helpText is printed by fs.Usage, both for --help and on a flag parse
// error; fs.PrintDefaults would also work but this keeps the shorthand
// flags grouped with their long form.
func helpText() string {
	var b strings.Builder

	fmt.Fprintln(&b, "Usage: h2d [flags]")
	fmt.Fprintln(&b, "  -h, --host <addr>              listen address (default 0.0.0.0)")
	fmt.Fprintln(&b, "  -p, --port <int>               listen port (default 8080)")
	fmt.Fprintln(&b, "  -m, --max-connections <int>    advisory connection cap (default 1024)")
	fmt.Fprintln(&b, "  -w, --workers <int>            reactor processes (default: one per CPU)")
	fmt.Fprintln(&b, "  --tls                          enable TLS")
	fmt.Fprintln(&b, "  --cert <path>, --key <path>    static certificate/key files")
	fmt.Fprintln(&b, "  --autocert-host <host>         obtain a certificate via ACME instead")
	fmt.Fprintln(&b, "  --autocert-cache-dir <dir>     ACME certificate cache (default ./certs)")
	fmt.Fprintln(&b, "  --log-level <level>            debug|info|warn|error|none (default info)")
	fmt.Fprintln(&b, "  --help                         print this message")

	return b.String()
}
