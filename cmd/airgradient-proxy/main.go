package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/config"
)

var (
	configFile string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "airgradient-proxy",
	Short: "AirGradient Proxy - local poller and archive for AirGradient monitors",
	Long: `airgradient-proxy polls an AirGradient air quality monitor on its local
network, keeps current, two-minute and archive records in a database and
serves them over a small read-only HTTP API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("AGP_CONFIG"), "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
}

// loadConfig loads the configuration selected by the persistent flags
func loadConfig() (config.Config, error) {
	return config.Load(configFile, envFiles...)
}

// loadStoreConfig is loadConfig for commands that never contact the sensor
func loadStoreConfig() (config.Config, error) {
	return config.LoadStore(configFile, envFiles...)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
