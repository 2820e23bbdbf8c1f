package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vleurgat/regsync/internal/app/regsync"
)

type rootOptions struct {
	logLevel   string
	configFile string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	root := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "regsync",
		Short:         "Mirror the content graph of a Docker registry repository",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(root.logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&root.logLevel, "log-level", "info", "the logging verbosity, one of panic, fatal, error, warn, info, debug, trace")
	cmd.PersistentFlags().StringVar(&root.configFile, "config", "", "the path to a YAML file holding the options; flags override it")

	cmd.AddCommand(newSyncCommand(root), newServeCommand(root), newSchemaCommand(root))
	return cmd
}

func addSyncFlags(cmd *cobra.Command, opts *regsync.Options) {
	flags := cmd.Flags()
	flags.StringVar(&opts.RemoteURL, "remote-url", opts.RemoteURL, "the base URL of the upstream registry, e.g. \"https://registry-1.docker.io\"")
	flags.StringVar(&opts.UpstreamName, "upstream-name", opts.UpstreamName, "the repository to sync, e.g. \"library/busybox\"")
	flags.BoolVar(&opts.IncludeForeignLayers, "include-foreign-layers", opts.IncludeForeignLayers, "also sync layers hosted outside the registry")
	flags.BoolVar(&opts.MaterializeBlobs, "materialize-blobs", opts.MaterializeBlobs, "download blob bytes, not just manifests")
	flags.StringVar(&opts.Database, "database", opts.Database, "where the content graph is kept, postgres or memory")
	flags.StringVar(&opts.PgConnStr, "pg-conn-str", opts.PgConnStr, "the Postgres connect string, e.g. \"host=host port=1234 user=user password=pw ...\"")
	flags.StringVar(&opts.StorageDir, "storage-dir", opts.StorageDir, "the directory downloaded artifacts are stored in")
	flags.StringVar(&opts.DockerConfig, "docker-config", opts.DockerConfig, "the path to the Docker registry config.json file, used to obtain login credentials")
	flags.StringVar(&opts.EquivRegistries, "equiv-registries", opts.EquivRegistries, "the path to the equiv-registries.json file, used to treat registry hosts as equivalent")
	flags.Int64Var(&opts.MaxConcurrent, "max-concurrent", opts.MaxConcurrent, "the maximum number of concurrent downloads, 0 for no limit")
	flags.IntVar(&opts.RetrySteps, "retry-steps", opts.RetrySteps, "the number of attempts per download")
	flags.StringVar(&opts.RetryDelay, "retry-delay", opts.RetryDelay, "the initial delay between attempts")
	flags.StringVar(&opts.Timeout, "timeout", opts.Timeout, "the timeout of a single HTTP request")
}

func loadOptions(cmd *cobra.Command, root *rootOptions, opts *regsync.Options) error {
	if err := regsync.ApplyConfigFile(cmd.Flags(), root.configFile, opts); err != nil {
		return err
	}
	return opts.Validate()
}

func newSyncCommand(root *rootOptions) *cobra.Command {
	opts := regsync.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one upstream repository once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadOptions(cmd, root, &opts); err != nil {
				return err
			}
			_, err := regsync.Sync(cmd.Context(), opts)
			return err
		},
	}
	addSyncFlags(cmd, &opts)
	return cmd
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := regsync.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sync an upstream repository whenever the registry notifies a push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadOptions(cmd, root, &opts); err != nil {
				return err
			}
			return regsync.Serve(cmd.Context(), opts)
		},
	}
	addSyncFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.Port, "port", opts.Port, "the port number to listen on")
	return cmd
}

func newSchemaCommand(root *rootOptions) *cobra.Command {
	opts := regsync.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := regsync.ApplyConfigFile(cmd.Flags(), root.configFile, &opts); err != nil {
				return err
			}
			if opts.PgConnStr == "" {
				return errors.New("--pg-conn-str is required")
			}
			return regsync.CreateSchema(cmd.Context(), opts.PgConnStr)
		},
	}
	cmd.Flags().StringVar(&opts.PgConnStr, "pg-conn-str", opts.PgConnStr, "the Postgres connect string")
	return cmd
}
