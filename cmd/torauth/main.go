package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/TecharoHQ/torauth"
	"github.com/TecharoHQ/torauth/internal"
	"github.com/TecharoHQ/torauth/lib"
	"github.com/TecharoHQ/torauth/lib/challenge"
	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/yaml"
)

var (
	bind                     = flag.String("bind", ":8924", "network address to bind HTTP to")
	bindNetwork              = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	configFname              = flag.String("config-fname", "", "full path to the torauth config file (defaults to a built-in config)")
	ed25519PrivateKeyHex     = flag.String("ed25519-private-key-hex", "", "private key used to sign pass tokens, if not set a random one will be assigned")
	ed25519PrivateKeyHexFile = flag.String("ed25519-private-key-hex-file", "", "file name containing value for ed25519-private-key-hex")
	healthcheck              = flag.Bool("healthcheck", false, "run a health check against torauth")
	metricsBind              = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork       = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	printConfig              = flag.Bool("print-config", false, "print the effective config as YAML and exit")
	socketMode               = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	slogLevel                = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	versionFlag              = flag.Bool("version", false, "print torauth version")
)

func keyFromHex(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", ed25519.SeedSize, len(keyBytes))
	}

	return ed25519.NewKeyFromSeed(keyBytes), nil
}

func loadKey() (ed25519.PrivateKey, error) {
	switch {
	case *ed25519PrivateKeyHex != "" && *ed25519PrivateKeyHexFile != "":
		return nil, errors.New("do not specify both ED25519_PRIVATE_KEY_HEX and ED25519_PRIVATE_KEY_HEX_FILE")
	case *ed25519PrivateKeyHex != "":
		return keyFromHex(*ed25519PrivateKeyHex)
	case *ed25519PrivateKeyHexFile != "":
		hexFile, err := os.ReadFile(*ed25519PrivateKeyHexFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ED25519_PRIVATE_KEY_HEX_FILE %s: %w", *ed25519PrivateKeyHexFile, err)
		}
		return keyFromHex(string(bytes.TrimSpace(hexFile)))
	}

	slog.Warn("generating random key, pass tokens from this instance will not verify on any other")
	return nil, nil
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + "/metrics")
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func setupListener(network string, address string) (net.Listener, string, error) {
	var formattedAddress string

	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :4259
			formattedAddress = "http://localhost" + address
		} else {
			formattedAddress = "http://" + address
		}
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, "", fmt.Errorf("failed to bind to %s: %w", formattedAddress, err)
	}

	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			return nil, "", fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err)
		}

		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			listener.Close()
			return nil, "", fmt.Errorf("could not change socket mode: %w", err)
		}
	}

	return listener, formattedAddress, nil
}

// serve runs srv on listener until ctx is done.
func serve(ctx context.Context, srv *http.Server, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			slog.Error("cannot shut down", "err", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logResults is the result handler of the standalone service. Callers learn
// outcomes through the HTTP API, so it only logs.
type logResults struct{}

func (logResults) OnAuthResult(ctx any, ok bool, attrs challenge.Attrs) {
	slog.Info("challenge resolved", "ok", ok, "context", ctx, "wallet", attrs.WalletAddress)
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("torauth", torauth.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *healthcheck {
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := lib.LoadConfigOrDefault(*configFname)
	if err != nil {
		log.Fatalf("can't load config: %v", err)
	}

	if *printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			log.Fatalf("can't marshal config: %v", err)
		}
		os.Stdout.Write(out)
		return
	}

	priv, err := loadKey()
	if err != nil {
		log.Fatalf("failed to parse and validate the ED25519 key: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := lib.OptionsFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("can't build options from config: %v", err)
	}
	opts.ED25519PrivateKey = priv

	auth, err := lib.New(opts)
	if err != nil {
		log.Fatalf("can't construct lib.Authenticator: %v", err)
	}

	if err := auth.Init(logResults{}); err != nil {
		log.Fatalf("can't start authenticator: %v", err)
	}
	defer auth.Close()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return nil
		case <-auth.Done():
			return fmt.Errorf("confirmation loop stopped: %w", auth.Err())
		}
	})

	if *metricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		listener, metricsURL, err := setupListener(*metricsBindNetwork, *metricsBind)
		if err != nil {
			log.Fatal(err)
		}
		slog.Debug("listening for metrics", "url", metricsURL)

		g.Go(func() error {
			return serve(gCtx, &http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}, listener)
		})
	}

	listener, listenerURL, err := setupListener(*bindNetwork, *bind)
	if err != nil {
		log.Fatal(err)
	}

	storeBackend := "none"
	if cfg.Store != nil {
		storeBackend = cfg.Store.Backend
	}
	slog.Info(
		"listening",
		"url", listenerURL,
		"version", torauth.Version,
		"retention", time.Duration(cfg.Retention),
		"webhook-url", cfg.WebhookURL,
		"ledger", cfg.Ledger != nil,
		"store", storeBackend,
	)

	g.Go(func() error {
		return serve(gCtx, &http.Server{Handler: auth.Handler(), ErrorLog: internal.GetFilteredHTTPLogger()}, listener)
	})

	if err := g.Wait(); err != nil {
		auth.Close()
		log.Fatal(err)
	}
}
