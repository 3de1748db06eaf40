// Command importer bulk-loads assignments from a JSON file through the
// assignment API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classcast-backend/pkg/httpclient"
	"classcast-backend/pkg/notify"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	apiURL        string
	file          string
	requestID     string
	chunkSize     int
	tokenEndpoint string
	timeout       time.Duration
	retries       int
	refreshSkew   time.Duration
	verbose       bool
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:   "importer --api <url> --file <assignments.json>",
		Short: "Bulk-import assignments through the ClassCast API",
		Example: `  CLASSCAST_ACCESS_TOKEN=... importer --api https://api.classcast.app --file fall.json
  importer --api http://localhost:8080 --file fall.json --chunk-size 200`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.apiURL, "api", "http://localhost:8080", "API base URL")
	flags.StringVarP(&opts.file, "file", "f", "", "JSON file with the assignments (required)")
	flags.StringVar(&opts.requestID, "request-id", "", "import id; generated when empty")
	flags.IntVar(&opts.chunkSize, "chunk-size", maxPerRequest, "assignments per request")
	flags.StringVar(&opts.tokenEndpoint, "token-endpoint", "", "token refresh endpoint")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-attempt request timeout")
	flags.IntVar(&opts.retries, "retries", 3, "retries per request")
	flags.DurationVar(&opts.refreshSkew, "refresh-skew", 5*time.Second, "refresh the access token this long before it expires")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	_ = root.MarkFlagRequired("file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	f, err := os.Open(opts.file)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.file, err)
	}
	defer f.Close()

	list, err := readAssignments(f)
	if err != nil {
		return err
	}
	if opts.requestID == "" {
		opts.requestID = uuid.NewString()
	}

	hub := notify.NewHub(logger, 0, notify.NewLogListener(logger))
	defer func() { _ = hub.Wait(context.Background()) }()

	cfg := httpclient.DefaultConfig(opts.apiURL)
	cfg.Timeout = opts.timeout
	cfg.MaxRetries = opts.retries
	cfg.RefreshSkew = opts.refreshSkew

	clientOpts := []httpclient.Option{
		httpclient.WithLogger(logger),
		httpclient.WithNotifier(hub),
		httpclient.WithCircuitBreaker(httpclient.DefaultBreakerSettings("classcast-api")),
	}
	if tm := tokenManager(opts.tokenEndpoint, cfg.RefreshSkew, logger); tm != nil {
		clientOpts = append(clientOpts, httpclient.WithTokenManager(tm))
	}

	im := &importer{
		client:    httpclient.New(cfg, clientOpts...),
		chunkSize: opts.chunkSize,
		logger:    logger,
	}

	sum, err := im.run(ctx, list, opts.requestID)
	logger.Info("Import finished",
		zap.String("request_id", opts.requestID),
		zap.Int("requests", sum.Requests),
		zap.Int("processed", sum.Processed),
		zap.Int("failed", sum.Failed),
		zap.Strings("errors", sum.Errors),
	)
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d assignments failed", sum.Failed, len(list))
	}
	return nil
}

// tokenManager builds a token manager from CLASSCAST_ACCESS_TOKEN and
// CLASSCAST_REFRESH_TOKEN. It returns nil when no access token is set.
func tokenManager(endpoint string, skew time.Duration, logger *zap.Logger) *httpclient.TokenManager {
	access := os.Getenv("CLASSCAST_ACCESS_TOKEN")
	if access == "" {
		return nil
	}

	var refresher httpclient.Refresher = httpclient.RefresherFunc(func(context.Context, string) (httpclient.TokenPair, error) {
		return httpclient.TokenPair{}, fmt.Errorf("no token endpoint configured")
	})
	if endpoint != "" {
		refresher = httpclient.NewHTTPRefresher(endpoint, nil)
	}

	tm := httpclient.NewTokenManager(refresher,
		httpclient.WithRefreshSkew(skew),
		httpclient.WithTokenLogger(logger),
	)
	tm.SetTokens(httpclient.TokenPair{
		AccessToken:  access,
		RefreshToken: os.Getenv("CLASSCAST_REFRESH_TOKEN"),
	})
	return tm
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
