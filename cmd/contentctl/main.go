// Command contentctl manages the content mirror in object storage.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/billybjork/billybjork.com/internal/observability/logging"
	"github.com/billybjork/billybjork.com/internal/storage"
)

type rootOptions struct {
	contentDir     string
	endpoint       string
	region         string
	accessKey      string
	secretKey      string
	bucket         string
	useSSL         bool
	prefix         string
	publicEndpoint string
	logLevel       string
}

func main() {
	_ = godotenv.Load()

	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "contentctl",
		Short:         "Seed, inspect and sync the content mirror in object storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.contentDir, "content-dir", envOr("PORTFOLIO_CONTENT_DIR", "content"), "content root directory")
	flags.StringVar(&opts.endpoint, "object-endpoint", os.Getenv("PORTFOLIO_OBJECT_ENDPOINT"), "object storage endpoint")
	flags.StringVar(&opts.region, "object-region", os.Getenv("PORTFOLIO_OBJECT_REGION"), "object storage region")
	flags.StringVar(&opts.accessKey, "object-access-key", os.Getenv("PORTFOLIO_OBJECT_ACCESS_KEY"), "object storage access key")
	flags.StringVar(&opts.secretKey, "object-secret-key", os.Getenv("PORTFOLIO_OBJECT_SECRET_KEY"), "object storage secret key")
	flags.StringVar(&opts.bucket, "object-bucket", os.Getenv("PORTFOLIO_OBJECT_BUCKET"), "object storage bucket name")
	flags.BoolVar(&opts.useSSL, "object-use-ssl", envBool("PORTFOLIO_OBJECT_USE_SSL"), "enable TLS for object storage requests")
	flags.StringVar(&opts.prefix, "object-prefix", os.Getenv("PORTFOLIO_OBJECT_PREFIX"), "object storage key prefix")
	flags.StringVar(&opts.publicEndpoint, "cdn-domain", os.Getenv("PORTFOLIO_CDN_DOMAIN"), "public CDN domain serving the bucket")
	flags.StringVar(&opts.logLevel, "log-level", envOr("PORTFOLIO_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	root.AddCommand(newSeedCommand(opts), newStatusCommand(opts), newSyncCommand(opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (o *rootOptions) syncConfig() (storage.SyncConfig, error) {
	client := storage.NewClient(storage.ObjectStorageConfig{
		Endpoint:       o.endpoint,
		Region:         o.region,
		AccessKey:      o.accessKey,
		SecretKey:      o.secretKey,
		Bucket:         o.bucket,
		UseSSL:         o.useSSL,
		Prefix:         o.prefix,
		PublicEndpoint: o.publicEndpoint,
	})
	if !client.Enabled() {
		return storage.SyncConfig{}, fmt.Errorf("object storage is not configured, set --object-endpoint and --object-bucket")
	}
	logger := logging.New(logging.Config{Level: o.logLevel, Format: "text"})
	return storage.SyncConfig{Client: client, Dir: o.contentDir, Logger: logger}, nil
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var deleteExtra bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upload local content to the bucket and mark it canonical",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.syncConfig()
			if err != nil {
				return err
			}
			uploaded, deleted, err := storage.SeedFromLocal(cmd.Context(), cfg, deleteExtra)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d files, deleted %d remote extras\n", uploaded, deleted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&deleteExtra, "delete-extra", false, "remove remote content files with no local counterpart")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare local content with the bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.syncConfig()
			if err != nil {
				return err
			}
			status, err := storage.Status(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "local files:  %d\n", status.LocalFiles)
			fmt.Fprintf(cmd.OutOrStdout(), "remote files: %d\n", status.RemoteFiles)
			fmt.Fprintf(cmd.OutOrStdout(), "canonical marker: %v\n", status.HasMarker)
			return nil
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Download the bucket's content into the local content directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.syncConfig()
			if err != nil {
				return err
			}
			synced, err := storage.SyncFromRemote(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d files into %s\n", synced, cfg.Dir)
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envBool(key string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && value
}
