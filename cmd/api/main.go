package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
	"securecms.org/internal/config"
	"securecms.org/internal/content"
	"securecms.org/internal/cryptobox"
	"securecms.org/internal/httpapi"
	"securecms.org/internal/obs"
	"securecms.org/internal/store/memory"
	"securecms.org/internal/store/pg"
	"securecms.org/internal/stream"
	"securecms.org/internal/throttle"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is everything the services need from storage.
type backend interface {
	auth.Store
	content.Store
	audit.Store
}

func main() {
	if err := run(); err != nil {
		obs.Error("securecms-api exited", err, nil)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.Init()
	obs.SetBuild("securecms-api", version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		store backend
		ready httpapi.ReadyProbe
	)
	if cfg.DatabaseDSN != "" {
		db, err := pg.Open(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			return err
		}
		store, ready = db, httpapi.ReadyProbe{Store: db}
	} else {
		mem := memory.New()
		if err := mem.Seed(ctx); err != nil {
			return err
		}
		obs.Log("warn", "no database configured; using volatile in-memory store", nil)
		store = mem
	}

	var accountOpts []auth.AccountsOption
	accountOpts = append(accountOpts, auth.WithDefaultRole(cfg.DefaultRole))
	if cfg.Login.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Login.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		lockout, err := throttle.New(client, cfg.Login)
		if err != nil {
			return err
		}
		accountOpts = append(accountOpts, auth.WithLoginThrottle(lockout))
	}

	svc, err := wire(store, cfg, accountOpts)
	if err != nil {
		return err
	}
	api, err := httpapi.New(svc, httpapi.Options{
		Ready:          ready,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.Info("starting securecms-api", map[string]any{"version": version, "addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	obs.Info("shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	obs.Info("stopped", nil)
	return nil
}

func wire(store backend, cfg config.Config, accountOpts []auth.AccountsOption) (httpapi.Services, error) {
	box, err := cryptobox.New(cfg.Encryption)
	if err != nil {
		return httpapi.Services{}, err
	}
	issuer, err := auth.NewIssuer(cfg.Session)
	if err != nil {
		return httpapi.Services{}, err
	}
	feed := stream.New()
	rec, err := audit.NewRecorder(store, feed)
	if err != nil {
		return httpapi.Services{}, err
	}
	accounts, err := auth.NewAccounts(store, rec, box, issuer, accountOpts...)
	if err != nil {
		return httpapi.Services{}, err
	}
	rbac, err := auth.NewRBACService(store, rec)
	if err != nil {
		return httpapi.Services{}, err
	}
	eval, err := auth.NewEvaluator(store)
	if err != nil {
		return httpapi.Services{}, err
	}
	policy, err := auth.NewPolicy(eval)
	if err != nil {
		return httpapi.Services{}, err
	}
	contents, err := content.NewService(store, policy, rec)
	if err != nil {
		return httpapi.Services{}, err
	}
	return httpapi.Services{
		Accounts:  accounts,
		RBAC:      rbac,
		Evaluator: eval,
		Policy:    policy,
		Content:   contents,
		Audit:     rec,
		Feed:      feed,
	}, nil
}
