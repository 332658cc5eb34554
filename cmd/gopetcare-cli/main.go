package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshp123/gopetcare/internal/logging"
	"github.com/joshp123/gopetcare/petkit"
)

var (
	bootstrapPath string
	jsonOutput    bool
	callTimeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "gopetcare-cli",
	Short: "Control PetKit appliances from the command line",
	Long: `gopetcare-cli talks directly to the PetKit cloud: list devices,
drive the water fountain over its BLE relay, and run litter box and
feeder commands.

Credentials are read from a bootstrap file (see --bootstrap).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&bootstrapPath, "bootstrap", "/etc/gopetcare/petkit-bootstrap.json", "Path to the credentials bootstrap file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 2*time.Minute, "Overall command timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() (*petkit.Client, error) {
	bootstrap, err := petkit.LoadBootstrap(bootstrapPath)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.WarnLevel)
	return petkit.NewClient(petkit.Config{
		Username: bootstrap.Username,
		Password: bootstrap.Password,
	}, log), nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}
