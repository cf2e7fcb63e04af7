package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nci/s2cloudless/utils"
)

var dumpFormat string

var checkConfCmd = &cobra.Command{
	Use:   "check-conf [file|dir]",
	Short: "Validate a config file, or every config file under a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := utils.EtcDir
		if len(args) > 0 {
			target = args[0]
		}

		info, err := os.Stat(target)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			config := &utils.Config{}
			if err := config.LoadConfigFile(target); err != nil {
				return err
			}
			logger.Info("config ok", zap.String("file", target))
			return nil
		}

		configMap, err := utils.LoadAllConfigFiles(target)
		if err != nil {
			return err
		}
		namespaces := make([]string, 0, len(configMap))
		for ns := range configMap {
			namespaces = append(namespaces, ns)
		}
		sort.Strings(namespaces)
		logger.Info("configs ok", zap.String("dir", target), zap.Strings("namespaces", namespaces))
		return nil
	},
}

var dumpConfCmd = &cobra.Command{
	Use:   "dump-conf [file]",
	Short: "Print the effective config with defaults applied",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile := os.Getenv(envConfig)
		if len(args) > 0 {
			configFile = args[0]
		}
		config, err := loadConfig(configFile)
		if err != nil {
			return err
		}

		out, err := config.DumpConfig(dumpFormat)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	dumpConfCmd.Flags().StringVar(&dumpFormat, "format", "json", "Output format: json or yaml.")
}

// loadConfig returns the defaults when configFile is empty.
func loadConfig(configFile string) (*utils.Config, error) {
	config := utils.NewConfig()
	if configFile == "" {
		return config, config.Validate()
	}
	if err := config.LoadConfigFile(configFile); err != nil {
		return nil, err
	}
	return config, nil
}
