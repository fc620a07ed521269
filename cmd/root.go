package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dirpush/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dirpush",
	Short: "dirpush - push a directory tree to a remote server over TCP",
	Long: `dirpush streams every regular file under a local directory to a
server over a single TCP connection. Each file is gzip-compressed,
checksummed (SHA-256 over the compressed bytes) and framed; the server
verifies integrity before reconstructing the tree under its output root.

Usage:
  Push a directory:   dirpush send [dir]
  Run the server:     dirpush serve`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize viper configuration
		initConfig()

		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}

		// Initialize configuration: defaults overlaid with anything
		// viper picked up from flags, environment or the config file
		cfg = config.NewDefaultConfig()
		setConfigDefaults(cfg)
		if err := viper.Unmarshal(cfg); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
	},
}

// setConfigDefaults registers the built-in defaults with viper so that
// unchanged command-line flags never shadow them.
func setConfigDefaults(c *config.Config) {
	viper.SetDefault("client.host", c.Client.Host)
	viper.SetDefault("client.port", c.Client.Port)
	viper.SetDefault("client.sourcedir", c.Client.SourceDir)
	viper.SetDefault("client.compressionlevel", c.Client.CompressionLevel)
	viper.SetDefault("server.host", c.Server.Host)
	viper.SetDefault("server.port", c.Server.Port)
	viper.SetDefault("server.outputdir", c.Server.OutputDir)
	viper.SetDefault("server.readtimeout", c.Server.ReadTimeout)
	viper.SetDefault("server.errorpolicy", string(c.Server.ErrorPolicy))
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dirpush.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	// Set up viper environment variable support
	viper.SetEnvPrefix("DIRPUSH")
	viper.AutomaticEnv()
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			logrus.Warnf("Could not find home directory: %v", err)
			return
		}

		// Search config in home directory with name ".dirpush" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dirpush")
	}

	// Read in environment variables that match
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		logrus.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	return ctx
}
