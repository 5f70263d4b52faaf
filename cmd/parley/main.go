package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Streaming LLM chat client",
	Long: `parley manages chat topics, streams assistant responses from a
provider, and keeps the conversation durable in a local SQLite database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db", defaultDBPath(), "path to the sqlite database")
	rootCmd.PersistentFlags().String("model", "", "model id to use for completions")
	rootCmd.PersistentFlags().String("api-key", "", "OpenAI API key")

	for _, flag := range []string{"log-level", "db", "model", "api-key"} {
		_ = viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag))
	}

	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if configDir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(configDir, "parley"))
	}
	_ = viper.ReadInConfig()

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newTopicsCommand())
	rootCmd.AddCommand(newExportCommand())
}

func setupLogging() error {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func defaultDBPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "parley.db"
	}
	return filepath.Join(configDir, "parley", "parley.db")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
