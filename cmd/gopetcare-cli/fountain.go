package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshp123/gopetcare/petkit"
)

var fountainDevice string

var fountainCmd = &cobra.Command{
	Use:   "fountain <command>",
	Short: "Send a command to a water fountain over its BLE relay",
	Long: `Send a command to a water fountain. The command travels through the
account's BLE relay, so a powered relay device must be online.

Commands: pause, normal, smart, reset-filter, light-on, light-off,
light-low, light-medium, light-high, dnd-on, dnd-off.`,
	Args: cobra.ExactArgs(1),
	RunE: runFountain,
}

func init() {
	fountainCmd.Flags().StringVar(&fountainDevice, "device", "", "Fountain name or id (optional when the account has one fountain)")
	rootCmd.AddCommand(fountainCmd)
}

func runFountain(cmd *cobra.Command, args []string) error {
	command, err := petkit.ParseFountainCommand(args[0])
	if err != nil {
		return err
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	snapshot, err := client.Refresh(ctx)
	if err != nil {
		return err
	}
	fountain, err := pickFountain(snapshot)
	if err != nil {
		return err
	}

	if err := client.ControlFountain(ctx, fountain, command); err != nil {
		return err
	}
	fmt.Printf("sent %s to %s\n", command, fountain.Name)
	return nil
}

func pickFountain(snapshot *petkit.Snapshot) (*petkit.Fountain, error) {
	if fountainDevice == "" {
		if len(snapshot.Fountains) == 1 {
			for _, fountain := range snapshot.Fountains {
				return fountain, nil
			}
		}
		return nil, fmt.Errorf("account has %d fountains, pick one with --device", len(snapshot.Fountains))
	}
	id, err := resolveDevice("fountain", fountainDevice, fountainNames(snapshot))
	if err != nil {
		return nil, err
	}
	return snapshot.Fountains[id], nil
}
