package main

import (
	"os"

	"github.com/spf13/cobra"

	"roadcall/internal/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "roadcall",
	Short: "Job dispatch and assignment engine for roadside call-outs",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "dispatch tuning file (yaml or json)")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log := logger.New("main")
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}
