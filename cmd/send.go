package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dirpush/internal/app"
	"dirpush/internal/telemetry"
	"dirpush/internal/ui"
)

type SendFlags struct {
	Host string
	Port int
	Src  string
}

var sendFlags SendFlags

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [dir]",
	Short: "Push a directory tree to the server",
	Long: `Push every regular file under a directory to the server. This will:

1. Walk the source directory and collect regular files
2. Connect to the server over TCP
3. Compress, checksum and frame each file in turn
4. Send the end-of-session marker and close the connection

The source directory can be given as a positional argument, via --src,
or fall back to the configured default.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			sendFlags.Src = args[0]
		}
		logrus.Infof("Starting sender for directory: %s", sourceDirOrDefault())
		if err := runSenderApp(&sendFlags); err != nil {
			logrus.Fatalf("Sender failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	// Define flags with struct binding
	sendCmd.Flags().StringVar(&sendFlags.Host, "host", "", "Server host (overrides config)")
	sendCmd.Flags().IntVar(&sendFlags.Port, "port", 0, "Server port (overrides config)")
	sendCmd.Flags().StringVarP(&sendFlags.Src, "src", "s", "", "Source directory to push (overrides config)")

	// Bind flags to viper for environment variable support
	viper.BindPFlag("client.host", sendCmd.Flags().Lookup("host"))
	viper.BindPFlag("client.port", sendCmd.Flags().Lookup("port"))
	viper.BindPFlag("client.sourcedir", sendCmd.Flags().Lookup("src"))
}

// sourceDirOrDefault resolves the directory the sender will walk.
func sourceDirOrDefault() string {
	if sendFlags.Src != "" {
		return sendFlags.Src
	}
	return cfg.Client.SourceDir
}

// runSenderApp creates and runs the sender application
func runSenderApp(flags *SendFlags) error {
	ctx := createContext()

	// Host and port overrides arrive through the viper flag bindings;
	// only the positional source directory needs explicit plumbing.
	opts := &app.SenderOptions{
		SourceDir: flags.Src,
	}

	events := telemetry.NewLog(logrus.StandardLogger())
	senderApp := app.NewSenderApp(cfg, events, ui.NewProgressUI())
	return senderApp.Run(ctx, opts)
}
