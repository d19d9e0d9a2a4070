// Package main is the entry point for quotamux.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigFile is the config file name looked for in the current
// directory and in ~/.config/quotamux/.
const defaultConfigFile = "config.yaml"

// cfgFile is the --config flag value, shared by every subcommand that
// needs to locate the configuration file.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "quotamux",
	Short: "A load-balancing proxy for AI provider API keys",
	Long: `quotamux schedules requests across a pool of AI provider API keys,
rotating on rate limits and failures so that a configured RPM budget is
never exceeded and a bad key never stalls traffic.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
