package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/web3-storage/carsource/internal/config"
	"github.com/web3-storage/carsource/internal/fetch"
	"github.com/web3-storage/carsource/internal/metrics"
	s3storage "github.com/web3-storage/carsource/internal/storage/s3"
	sourceerrors "github.com/web3-storage/carsource/pkg/errors"
	"github.com/web3-storage/carsource/pkg/utils"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "carsource",
		Usage: "Open CAR archives stored in S3 and list their blocks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"CARSOURCE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (DEBUG, INFO, WARN, ERROR)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "open",
				Usage:     "Open one or more CAR objects and print their stats and blocks",
				ArgsUsage: "KEY...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "region",
						Usage: "S3 region of the bucket",
					},
					&cli.StringFlag{
						Name:     "bucket",
						Aliases:  []string{"b"},
						Usage:    "S3 bucket name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "endpoint",
						Usage: "Custom S3 endpoint URL (enables path-style addressing)",
					},
					&cli.IntFlag{
						Name:  "retries",
						Usage: "Maximum attempts per object",
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Wait between attempts",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Objects opened in parallel",
						Value: 4,
					},
					&cli.BoolFlag{
						Name:  "cids",
						Usage: "Print every block CID",
					},
				},
				Action: runOpen,
			},
			{
				Name:  "config",
				Usage: "Print the effective configuration as YAML",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the configuration, credentials included, to this file (mode 0600) instead",
					},
				},
				Action: runConfig,
			},
		},
	}
}

// loadConfiguration layers defaults, file, environment and flags, then validates.
func loadConfiguration(c *cli.Context) (*config.Configuration, error) {
	cfg := config.NewDefault()

	if path := c.String("config"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if c.IsSet("log-level") {
		cfg.Global.LogLevel = strings.ToUpper(c.String("log-level"))
	}
	if c.IsSet("log-format") {
		cfg.Global.LogFormat = strings.ToLower(c.String("log-format"))
	}
	if c.IsSet("region") {
		cfg.Storage.Region = c.String("region")
	}
	if c.IsSet("endpoint") {
		cfg.Storage.EndpointURL = c.String("endpoint")
	}
	if c.IsSet("retries") {
		cfg.Storage.MaxRetries = c.Int("retries")
	}
	if c.IsSet("retry-delay") {
		cfg.Storage.RetryDelay = c.Duration("retry-delay")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runConfig(c *cli.Context) error {
	cfg, err := loadConfiguration(c)
	if err != nil {
		return err
	}

	if path := c.String("output"); path != "" {
		if err := cfg.SaveToFile(path); err != nil {
			return err
		}
		_, err = fmt.Fprintf(c.App.Writer, "Configuration written to %s\n", path)
		return err
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func runOpen(c *cli.Context) error {
	keys := c.Args().Slice()
	if len(keys) == 0 {
		return fmt.Errorf("at least one object key is required")
	}

	cfg, err := loadConfiguration(c)
	if err != nil {
		return err
	}

	logger, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, c.App.ErrWriter)
	if err != nil {
		return err
	}

	collector, err := metrics.NewCollector(cfg.MetricsConfig(), logger)
	if err != nil {
		return err
	}
	if err := collector.Start(c.Context); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := collector.Stop(ctx); err != nil {
			logger.Warn("Failed to stop metrics server", "error", err)
		}
	}()

	pool := s3storage.NewConnectionPool(cfg.S3Config(), nil, logger,
		s3storage.WithObserver(collector.UpdatePoolClients))
	fetcher := fetch.NewFetcher(pool, cfg.FetchConfig(),
		fetch.WithLogger(logger),
		fetch.WithTelemetry(collector))

	reports := openAll(c.Context, fetcher, cfg.Storage.Region, c.String("bucket"), keys, c.Int("concurrency"), c.Bool("cids"))

	var errs []error
	for _, report := range reports {
		report.print(c.App.Writer)
		if report.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", report.Key, report.Err))
		}
	}

	stats := pool.Stats()
	logger.Debug("Pool statistics", "clients", stats.Clients, "created", stats.Created, "hits", stats.Hits)

	return errors.Join(errs...)
}

type streamOpener interface {
	OpenRemoteStream(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

type objectReport struct {
	Key    string
	Stats  fetch.Stats
	Roots  []string
	Blocks int
	Bytes  int64
	CIDs   []string
	Err    error
}

// openAll opens every key, at most concurrency at a time. A failing key does
// not stop the others.
func openAll(ctx context.Context, opener streamOpener, region, bucket string, keys []string, concurrency int, withCIDs bool) []objectReport {
	if concurrency <= 0 {
		concurrency = 1
	}

	reports := make([]objectReport, len(keys))
	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			reports[i] = openObject(ctx, opener, fetch.Request{
				Region: region,
				Bucket: bucket,
				Key:    key,
				Logger: slog.Default().With("key", key),
			}, withCIDs)
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

func openObject(ctx context.Context, opener streamOpener, req fetch.Request, withCIDs bool) objectReport {
	report := objectReport{Key: req.Key}

	result, err := opener.OpenRemoteStream(ctx, req)
	if err != nil {
		report.Err = err
		return report
	}
	defer result.Iterator.Close()

	report.Stats = result.Stats
	for _, root := range result.Iterator.Roots() {
		report.Roots = append(report.Roots, root.String())
	}

	for {
		record, err := result.Iterator.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.Err = err
			break
		}
		report.Blocks++
		report.Bytes += int64(len(record.Data))
		if withCIDs {
			report.CIDs = append(report.CIDs, record.CID.String())
		}
	}

	return report
}

func (r objectReport) print(w io.Writer) {
	if r.Err != nil && r.Blocks == 0 {
		r.printError(w)
		return
	}

	lastModified := "-"
	if r.Stats.LastModified != nil {
		lastModified = time.UnixMilli(*r.Stats.LastModified).UTC().Format(time.RFC3339)
	}
	size := "-"
	if r.Stats.ContentLength != nil {
		size = utils.FormatBytes(*r.Stats.ContentLength)
	}

	fmt.Fprintf(w, "%s\tlast_modified=%s\tsize=%s\troots=%s\tblocks=%d\tdata=%s\n",
		r.Key, lastModified, size, strings.Join(r.Roots, ","), r.Blocks, utils.FormatBytes(r.Bytes))
	for _, c := range r.CIDs {
		fmt.Fprintf(w, "\t%s\n", c)
	}
	if r.Err != nil {
		r.printError(w)
	}
}

func (r objectReport) printError(w io.Writer) {
	fmt.Fprintf(w, "%s\terror=%v\n", r.Key, r.Err)
	if hint := sourceerrors.Recommendation(r.Err); hint != "" {
		fmt.Fprintf(w, "%s\thint=%s\n", r.Key, hint)
	}
}
