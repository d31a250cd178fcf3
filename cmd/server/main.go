package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"coord-service/internal/config"
	"coord-service/internal/factory"
	"coord-service/internal/hashing"
	"coord-service/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	hashSecret := flag.Bool("hash-secret", false, "read a webhook or operator secret from stdin and print its argon2id hash")
	flag.Parse()

	if *hashSecret {
		if err := printSecretHash(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format, cfg.Cluster.Name)
	defer util.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f, err := factory.NewFactory(ctx, cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	if err := run(ctx, f); err != nil {
		util.Error("Service stopped with error", util.ErrorField(err))
	}
}

// run serves HTTP, consumes the notification queue and ticks the scheduler
// until ctx is cancelled, then drains detached work.
func run(ctx context.Context, f *factory.Factory) error {
	cfg := f.Config()
	servers := buildServers(f)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return f.Consumer().Run(gctx)
	})

	f.Scheduler().Start()
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return f.Scheduler().Stop(sctx)
	})

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			util.Info("Server started",
				util.String("address", srv.Addr),
				util.Bool("tls_enabled", srv.TLSConfig != nil))
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down", util.String("cluster", cfg.Cluster.Name))
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	f.Drain()
	return err
}

func buildServers(f *factory.Factory) []*http.Server {
	cfg := f.Config()
	router := f.Router()

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	tlsManager := f.TLSManager()
	if tlsManager == nil {
		util.Warn("Starting HTTP server - TLS is disabled", util.Int("port", cfg.Server.Port))
		return []*http.Server{server}
	}

	server.TLSConfig = tlsManager.GetTLSConfig()
	servers := []*http.Server{server}
	if cfg.Server.TLS.AutoCert {
		// ACME HTTP-01 challenges arrive on port 80.
		servers = append(servers, &http.Server{
			Addr:              ":80",
			Handler:           tlsManager.ChallengeHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}
	return servers
}

func printSecretHash() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return errors.New("secret must not be empty")
	}
	encoded, err := hashing.NewHasher(hashing.DefaultParams).Hash(secret)
	if err != nil {
		return err
	}
	fmt.Println(encoded)
	return nil
}
