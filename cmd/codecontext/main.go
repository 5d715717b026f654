package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/jahboukie/codecontext-keygen/internal/authority"
	"github.com/jahboukie/codecontext-keygen/internal/config"
	"github.com/jahboukie/codecontext-keygen/internal/fingerprint"
	"github.com/jahboukie/codecontext-keygen/internal/infrastructure"
	"github.com/jahboukie/codecontext-keygen/internal/license"
	"github.com/jahboukie/codecontext-keygen/internal/services"
	transporthttp "github.com/jahboukie/codecontext-keygen/internal/transport/http"
)

const usage = `codecontext - AI context management with licensed features

Usage:
  codecontext activate <license-key>   Activate a license for this machine
  codecontext status                   Show license status summary
  codecontext license                  Show detailed license information
  codecontext authorize <operation>    Check whether an operation is permitted
  codecontext serve                    Run the local license API server

Environment:
  CODECONTEXT_AUTHORITY_ACCOUNT_ID     License authority account
  CODECONTEXT_AUTHORITY_API_KEY        License authority API token
  CODECONTEXT_CONFIG                   Path to a YAML config file
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	ctx := infrastructure.EnsureTraceID(context.Background())

	exitCode := run(ctx, cfg, logger, args[0], args[1:])
	os.Exit(exitCode)
}

// run dispatches the subcommand and returns the process exit code
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, command string, args []string) int {
	switch command {
	case "activate":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "Usage: codecontext activate <license-key>")
			return 2
		}
		return cmdActivate(ctx, cfg, logger, args[0])
	case "status":
		return cmdStatus(ctx, cfg, logger)
	case "license":
		return cmdLicense(ctx, cfg, logger)
	case "authorize":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "Usage: codecontext authorize <operation>")
			return 2
		}
		return cmdAuthorize(ctx, cfg, logger, args[0])
	case "serve":
		return cmdServe(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", command, usage)
		return 2
	}
}

// buildService wires the authority client, cache store, manager, and service
func buildService(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *license.Metrics) (services.LicenseService, *license.Manager, error) {
	client := authority.NewClient(authority.Config{
		BaseURL:   cfg.Authority.BaseURL,
		AccountID: cfg.Authority.AccountID,
		APIKey:    cfg.Authority.APIKey,
		Product:   cfg.Authority.Product,
		Timeout:   cfg.Authority.Timeout,
	}, logger)

	generator := fingerprint.NewGenerator()
	machine, err := generator.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fingerprint this machine: %w", err)
	}

	store, err := license.NewStore(cfg.License.CacheFile, machine.Digest, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open license cache: %w", err)
	}

	manager, err := license.NewManager(ctx, client, store, generator, license.Options{
		ValidationCacheTTL: cfg.License.ValidationCacheTTL,
		ActivationRate:     rateLimit(cfg.License.ActivationRate),
		ActivationBurst:    cfg.License.ActivationBurst,
		Metrics:            metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	return services.NewLicenseService(manager, cfg.License.CacheFile, logger), manager, nil
}

func cmdActivate(ctx context.Context, cfg *config.Config, logger *slog.Logger, key string) int {
	service, _, err := buildService(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	resp, err := service.Activate(ctx, key)
	if err != nil {
		return reportLicenseError(err)
	}

	fmt.Println(resp.Message)
	fmt.Printf("  Tier:     %s\n", resp.Tier)
	fmt.Printf("  Features: %s\n", strings.Join(resp.Features, ", "))
	return 0
}

func cmdStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	service, _, err := buildService(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	status, err := service.GetStatus(ctx)
	if err != nil {
		return reportLicenseError(err)
	}

	fmt.Printf("State:   %s\n", status.State)
	fmt.Printf("Message: %s\n", status.Message)
	if status.Tier != "" {
		fmt.Printf("Tier:    %s\n", status.Tier)
	}
	if len(status.Features) > 0 {
		fmt.Printf("Features: %s\n", strings.Join(status.Features, ", "))
	}
	return 0
}

func cmdLicense(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	service, _, err := buildService(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	detailed, err := service.GetDetailedStatus(ctx)
	if err != nil {
		return reportLicenseError(err)
	}

	fmt.Printf("License:  %s\n", detailed.KeyMasked)
	fmt.Printf("State:    %s\n", detailed.State)
	fmt.Printf("Tier:     %s\n", detailed.Tier)
	fmt.Printf("Active:   %t\n", detailed.Active)
	if detailed.Email != "" {
		fmt.Printf("Email:    %s\n", detailed.Email)
	}
	if detailed.ActivatedAt != nil {
		fmt.Printf("Activated: %s\n", detailed.ActivatedAt.Format(time.RFC3339))
	}
	if detailed.ExpiresAt != nil {
		fmt.Printf("Expires:  %s\n", detailed.ExpiresAt.Format(time.RFC3339))
	}
	if detailed.MaxActivations != nil {
		fmt.Printf("Machines: %d of %d\n", detailed.ActivationsUsed, *detailed.MaxActivations)
	}
	fmt.Printf("Features: %s\n", strings.Join(detailed.Features, ", "))
	fmt.Printf("Cache:    %s\n", detailed.CachePath)
	return 0
}

func cmdAuthorize(ctx context.Context, cfg *config.Config, logger *slog.Logger, operation string) int {
	service, _, err := buildService(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	decision, err := service.Authorize(ctx, operation)
	if err != nil {
		return reportLicenseError(err)
	}

	if decision.Allowed {
		fmt.Printf("Operation %q is allowed.\n", operation)
		return 0
	}

	fmt.Fprintf(os.Stderr, "Operation %q is not allowed.\n", operation)
	if decision.Message != "" {
		fmt.Fprintln(os.Stderr, decision.Message)
	}
	return 1
}

func cmdServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	providers, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize telemetry: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	metrics, err := license.NewMetrics(providers.Meter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create license metrics: %v\n", err)
		return 1
	}

	service, manager, err := buildService(ctx, cfg, logger, metrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	srv := transporthttp.NewServer(service, transporthttp.ServerOptions{
		Host:           "127.0.0.1",
		Port:           cfg.Server.Port,
		Logger:         logger,
		MetricsHandler: providers.PrometheusHTTP,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("license API server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Re-validate the cached entitlement in the background so a long-running
	// server notices remote revocations without waiting for a request.
	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	if cfg.License.RefreshInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.License.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-refreshCtx.Done():
					return
				case <-ticker.C:
					valid := manager.ValidateLicense(refreshCtx)
					logger.Debug("background license refresh",
						slog.Bool("valid", valid))
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
			return 1
		}
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		if err := transporthttp.Shutdown(ctx, srv, cfg.Server.ShutdownTimeout); err != nil {
			logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
			return 1
		}
	}

	return 0
}

// rateLimit converts the configured activations-per-second value
func rateLimit(v float64) rate.Limit {
	return rate.Limit(v)
}

// reportLicenseError prints the remediation for a license failure and
// returns the exit code
func reportLicenseError(err error) int {
	var actErr *license.ActivationError
	switch {
	case errors.As(err, &actErr):
		fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", actErr.Reason, license.Remediation(actErr.Reason))
	case errors.Is(err, license.ErrNoLicense):
		fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", license.ReasonNoLicense, license.Remediation(license.ReasonNoLicense))
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return 1
}
