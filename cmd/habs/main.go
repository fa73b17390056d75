// Command habs is a CLI for highly available blob stores
// and their hash-group indexes.
//
// It reads a config file (JSON or YAML) like this:
//
//	store:
//	  type: ha
//	  primary: {type: file, root: /data/a}
//	  secondary: {type: sqlite3, conn: /data/b.db}
//	index:
//	  type: badger
//	  dir: /data/index
//	  prefix_len: 2
//	peer:
//	  store: {type: file, root: /mnt/other}
//	  index: {type: badger, dir: /mnt/other-index, prefix_len: 2}
//	log:
//	  level: info
//	metrics:
//	  addr: localhost:9090
//
// Settings can be overridden by environment variables prefixed HABS_,
// e.g. HABS_LOG_LEVEL=debug.
//
// When metrics.addr is set,
// Prometheus metrics are served at /metrics on that address
// for as long as the command runs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bobg/habs"
	"github.com/bobg/habs/hashgroup"
	_ "github.com/bobg/habs/hashgroup/badgerindex"
	_ "github.com/bobg/habs/hashgroup/sqlindex"
	"github.com/bobg/habs/store"
	_ "github.com/bobg/habs/store/bt"
	_ "github.com/bobg/habs/store/file"
	_ "github.com/bobg/habs/store/gcs"
	_ "github.com/bobg/habs/store/ha"
	"github.com/bobg/habs/store/indexed"
	_ "github.com/bobg/habs/store/logging"
	_ "github.com/bobg/habs/store/lru"
	_ "github.com/bobg/habs/store/mem"
	_ "github.com/bobg/habs/store/null"
	_ "github.com/bobg/habs/store/pg"
	_ "github.com/bobg/habs/store/s3"
	_ "github.com/bobg/habs/store/sqlite3"
	_ "github.com/bobg/habs/store/transform"
)

// app holds what the subcommands share.
// Stores and trees are opened on first use.
type app struct {
	v       *viper.Viper
	logger  *zap.Logger
	verbose bool
	config  string

	closers []func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{v: viper.New()}
	err := a.rootCmd().ExecuteContext(ctx)
	err = multierr.Append(err, a.close())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "habs",
		Short:        "habs manages highly available blob stores and their hash-group indexes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.config, "config", "c", "habs.yaml", "path to config file")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		a.putCmd(),
		a.getCmd(),
		a.hasCmd(),
		a.ingestCmd(),
		a.catCmd(),
		a.repairCmd(),
		a.reindexCmd(),
		a.recomputeCmd(),
		a.groupCmd(),
		a.diffCmd(),
		a.syncCmd(),
	)
	return cmd
}

func (a *app) init() error {
	a.v.SetConfigFile(a.config)
	a.v.SetEnvPrefix("HABS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()
	a.v.SetDefault("log.level", "info")
	if err := a.v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading config file %s", a.config)
	}

	logger, err := a.newLogger()
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	a.logger = logger

	// Stores created from the registry log to the global logger.
	zap.ReplaceGlobals(logger)
	logger.Debug("using config file", zap.String("file", a.v.ConfigFileUsed()))

	if addr := a.v.GetString("metrics.addr"); addr != "" {
		a.serveMetrics(addr)
	}
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		a.logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", zap.Error(err))
		}
	}()
	a.closers = append(a.closers, func() error {
		return srv.Shutdown(context.Background())
	})
}

func (a *app) newLogger() (*zap.Logger, error) {
	conf := zap.NewProductionConfig()
	if a.v.GetBool("log.development") {
		conf = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(a.v.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	if a.verbose {
		level = zapcore.DebugLevel
	}
	conf.Level = zap.NewAtomicLevelAt(level)
	return conf.Build()
}

// close closes everything opened, in reverse order.
// Closing an HA store waits for its pending replication.
func (a *app) close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	if a.logger != nil {
		a.logger.Sync()
	}
	return err
}

// openStore creates the store configured under key.
func (a *app) openStore(ctx context.Context, key string) (habs.Store, error) {
	conf := a.v.GetStringMap(key)
	if len(conf) == 0 {
		return nil, fmt.Errorf("no %s in config", key)
	}
	s, err := store.FromConfig(ctx, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", key)
	}
	switch c := s.(type) {
	case interface{ Close() error }:
		a.closers = append(a.closers, c.Close)
	case interface{ Close() }:
		a.closers = append(a.closers, func() error { c.Close(); return nil })
	}
	a.logger.Debug("opened store", zap.String("config", key), zap.String("store", store.Describe(s)))
	return s, nil
}

// openTree creates the hash-group tree configured under key.
func (a *app) openTree(ctx context.Context, key string) (*hashgroup.Tree, error) {
	conf := a.v.GetStringMap(key)
	if len(conf) == 0 {
		return nil, fmt.Errorf("no %s in config", key)
	}
	tree, err := hashgroup.TreeFromConfig(ctx, conf, hashgroup.WithLogger(a.logger.Named("hashgroup")))
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", key)
	}
	a.closers = append(a.closers, tree.Close)
	return tree, nil
}

// openIndexedStore opens the store,
// and wraps it so that writes update the index if one is configured.
func (a *app) openIndexedStore(ctx context.Context) (habs.Store, error) {
	s, err := a.openStore(ctx, "store")
	if err != nil {
		return nil, err
	}
	if !a.v.IsSet("index") {
		return s, nil
	}
	tree, err := a.openTree(ctx, "index")
	if err != nil {
		return nil, err
	}
	return indexed.New(s, tree), nil
}

func parseRef(s string) (habs.Ref, error) {
	ref, err := habs.RefFromHex(s)
	return ref, errors.Wrapf(err, "decoding ref %s", s)
}
