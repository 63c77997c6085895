package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/etnz/debstore/docstore"
	"github.com/etnz/debstore/docstore/memory"
	"github.com/etnz/debstore/docstore/sqlstore"
	"github.com/etnz/debstore/events"
	"github.com/etnz/debstore/fetch"
	"github.com/etnz/debstore/logging"
	"github.com/etnz/debstore/manifest"
	"github.com/etnz/debstore/metrics"
	"github.com/etnz/debstore/records"
	"github.com/etnz/debstore/suite"
)

// app holds what every command needs, opened before the command runs.
type app struct {
	configPath  string
	driver      string
	dsn         string
	logFormat   string
	logLevel    string
	metricsFile string

	manifest *manifest.Manifest
	logger   logging.Logger
	metrics  *metrics.Metrics
	listener events.Listener
	docs     docstore.Store
	records  *records.Store
	suites   *suite.Log
	fetcher  *fetch.Fetcher
}

// run executes the command line args. The store is closed and metrics are
// written even when the command fails.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer func() {
		err = errors.Join(err, a.close())
	}()
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "debstore",
		Short: "debstore keeps Debian suites and their history in a document store",
		Long: `debstore stores Debian package stanzas as immutable records and suites as
append-only logs of changesets, so any suite can be exported, audited or
rolled back to an earlier state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "manifest file (YAML or JSON)")
	flags.StringVar(&a.driver, "driver", manifest.DefaultDriver, "document store: sqlite, postgres or memory")
	flags.StringVar(&a.dsn, "dsn", manifest.DefaultDSN, "document store data source name")
	flags.StringVar(&a.logFormat, "log-format", manifest.DefaultLogFormat, "log format: text, json or console")
	flags.StringVar(&a.logLevel, "log-level", manifest.DefaultLogLevel, "log level: debug, info, warn or error")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newImportCmd(a),
		newImportDebsCmd(a),
		newExportCmd(a),
		newLsCmd(a),
		newLogCmd(a),
		newShowCmd(a),
		newRollbackCmd(a),
		newSuitesCmd(a),
		newSyncCmd(a),
		newMigrateCmd(a),
	)
	return root
}

// configure merges defaults, the manifest and the flags set on the command
// line, in increasing precedence.
func (a *app) configure(cmd *cobra.Command) error {
	m := manifest.Default()
	if a.configPath != "" {
		var err error
		if m, err = manifest.Load(a.configPath); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		m.Store.Driver = a.driver
		if !flags.Changed("dsn") {
			m.Store.DSN = ""
		}
	}
	if flags.Changed("dsn") {
		m.Store.DSN = a.dsn
	}
	if flags.Changed("log-format") {
		m.Log.Format = a.logFormat
	}
	if flags.Changed("log-level") {
		m.Log.Level = a.logLevel
	}
	if flags.Changed("metrics-file") {
		m.MetricsFile = a.metricsFile
	}
	a.manifest = m
	return m.Validate()
}

func (a *app) open(cmd *cobra.Command) error {
	if err := a.configure(cmd); err != nil {
		return err
	}
	m := a.manifest

	logger, err := logging.New(cmd.ErrOrStderr(), m.Log.Format, m.Log.Level)
	if err != nil {
		return err
	}
	a.logger = logger
	a.metrics = metrics.New()
	a.listener = events.Multi(logging.Listener(cmd.Context(), logger), a.metrics.Observe)

	if a.docs, err = openStore(cmd.Context(), m.Store); err != nil {
		return err
	}
	a.records = records.New(a.docs,
		records.WithListener(a.listener),
		records.WithBatchSize(m.Export.BatchSize))
	a.suites = suite.New(a.docs, a.records,
		suite.WithListener(a.listener),
		suite.WithBatchSize(m.Export.BatchSize))
	a.fetcher = fetch.NewFetcher(fetch.WithListener(a.listener))
	return nil
}

func openStore(ctx context.Context, cfg manifest.Store) (docstore.Store, error) {
	if cfg.Driver == "memory" {
		return memory.New(), nil
	}
	dialect, err := sqlstore.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("the %s store needs a dsn", cfg.Driver)
	}
	return sqlstore.Open(ctx, dialect, cfg.DSN)
}

func (a *app) close() error {
	var errs []error
	if a.docs != nil {
		errs = append(errs, a.docs.Close())
	}
	if a.manifest != nil && a.manifest.MetricsFile != "" && a.metrics != nil {
		errs = append(errs, a.metrics.WriteTextfile(a.manifest.MetricsFile))
	}
	if z, ok := a.logger.(*logging.ZapLogger); ok {
		// stderr cannot always be synced
		_ = z.Sync()
	}
	return errors.Join(errs...)
}
