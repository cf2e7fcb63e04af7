// s2mask masks clouds and cloud shadows out of Sentinel-2 surface
// reflectance scenes using the s2cloudless probability product.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envConfig      = "S2MASK_CONFIG"
	envPostgresDSN = "S2MASK_PG_DSN"
	envMemcache    = "S2MASK_MEMCACHE"
	envMetricsAddr = "S2MASK_METRICS_ADDR"
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "s2mask",
	Short: "Sentinel-2 cloud and cloud shadow masking",
	Long: `s2mask joins Sentinel-2 surface reflectance scenes with their
s2cloudless cloud probability companions, derives a cloud and cloud shadow
mask for every scene and reports the masked pixels per scene.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose mode for more outputs.")
	rootCmd.AddCommand(newRunCmd(), checkConfCmd, dumpConfCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
