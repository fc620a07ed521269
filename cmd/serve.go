package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dirpush/internal/app"
	"dirpush/internal/telemetry"
)

type ServeFlags struct {
	Host   string
	Port   int
	Out    string
	Policy string
}

var serveFlags ServeFlags

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive pushed files and reconstruct them under the output root",
	Long: `Run the receiving server. This will:

1. Listen on the configured TCP address
2. Spawn one handler goroutine per accepted connection
3. Verify each file's checksum before decompressing it
4. Reject any path that would escape the output root

Per-file failures (checksum mismatch, unsafe path, disk error) are
skipped or abort the connection according to --policy.`,
	Run: func(cmd *cobra.Command, args []string) {
		logrus.Infof("Starting server, output root: %s", outputDirOrDefault())
		if err := runReceiverApp(&serveFlags); err != nil {
			logrus.Fatalf("Server failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Define flags with struct binding
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Listen port (overrides config)")
	serveCmd.Flags().StringVarP(&serveFlags.Out, "out", "o", "", "Output root directory (overrides config)")
	serveCmd.Flags().StringVar(&serveFlags.Policy, "policy", "", "Per-file error policy: skip or abort (overrides config)")

	// Bind flags to viper for environment variable support
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.outputdir", serveCmd.Flags().Lookup("out"))
	viper.BindPFlag("server.errorpolicy", serveCmd.Flags().Lookup("policy"))
}

// outputDirOrDefault resolves the root the server will write beneath.
func outputDirOrDefault() string {
	if serveFlags.Out != "" {
		return serveFlags.Out
	}
	return cfg.Server.OutputDir
}

// runReceiverApp creates and runs the receiver application
func runReceiverApp(flags *ServeFlags) error {
	ctx := createContext()

	// Host, port and policy overrides arrive through the viper flag
	// bindings and were validated with the rest of the configuration.
	opts := &app.ReceiverOptions{
		OutputDir: flags.Out,
	}

	events := telemetry.NewLog(logrus.StandardLogger())
	receiverApp := app.NewReceiverApp(cfg, events)
	return receiverApp.Run(ctx, opts)
}
