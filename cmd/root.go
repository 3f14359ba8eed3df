package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/killallgit/tokenstream/pkg/config"
	"github.com/killallgit/tokenstream/pkg/headless"
	"github.com/killallgit/tokenstream/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string

	// flagBindings maps viper keys to the flags bound to them
	flagBindings = map[string]*pflag.Flag{}
)

var rootCmd = &cobra.Command{
	Use:   "tokenstream",
	Short: "Stream chat replies from a local or hosted model",
	Long: `Stream chat replies token by token from an Ollama (NDJSON) or
OpenAI-compatible (SSE) backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}

// reportError prints err unless the command already showed it
func reportError(w io.Writer, err error) {
	var reported *headless.ReportedError
	if errors.As(err, &reported) {
		return
	}
	fmt.Fprintln(w, "Error:", err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.tokenstream/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	bindFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("url", "", "backend base URL")
	bindFlag("backend.url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("format", "f", "", "wire format: ndjson or sse")
	bindFlag("backend.format", rootCmd.PersistentFlags().Lookup("format"))

	rootCmd.PersistentFlags().StringP("model", "m", "", "model name")
	bindFlag("backend.model", rootCmd.PersistentFlags().Lookup("model"))
}

func bindFlag(key string, flag *pflag.Flag) {
	flagBindings[key] = flag
	viper.BindPFlag(key, flag)
}

// rebindFlags restores the flag bindings after config.Reset cleared viper
func rebindFlags() {
	for key, flag := range flagBindings {
		viper.BindPFlag(key, flag)
	}
}

// initConfig loads the dotenv file, then configuration, then the logger
func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if _, err := config.Load(cfgFile); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(); err != nil {
		return err
	}
	logger.Debug("Using config file: %s", config.GetConfigFileUsed())
	return nil
}
