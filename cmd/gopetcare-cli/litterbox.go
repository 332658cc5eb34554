package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshp123/gopetcare/petkit"
)

var litterBoxDevice string

var litterBoxCmd = &cobra.Command{
	Use:   "litterbox <command>",
	Short: "Send a command to a litter box",
	Long: `Send a command to a litter box.

Commands: start_clean, stop_clean, continue_clean, power, light_on,
start_odor, reset_deodorizer, dump_litter, pause_litter_dump,
resume_litter_dump, start_maintenance, exit_maintenance,
reset_max_deodorizer.`,
	Args: cobra.ExactArgs(1),
	RunE: runLitterBox,
}

func init() {
	litterBoxCmd.Flags().StringVar(&litterBoxDevice, "device", "", "Litter box name or id (optional when the account has one)")
	rootCmd.AddCommand(litterBoxCmd)
}

func runLitterBox(cmd *cobra.Command, args []string) error {
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
	box, err := pickLitterBox(snapshot)
	if err != nil {
		return err
	}

	if err := client.ControlLitterBox(ctx, box, petkit.LitterBoxCommand(args[0])); err != nil {
		return err
	}
	fmt.Printf("sent %s to %s\n", args[0], box.Name)
	return nil
}

func pickLitterBox(snapshot *petkit.Snapshot) (*petkit.LitterBox, error) {
	if litterBoxDevice == "" {
		if len(snapshot.LitterBoxes) == 1 {
			for _, box := range snapshot.LitterBoxes {
				return box, nil
			}
		}
		return nil, fmt.Errorf("account has %d litter boxes, pick one with --device", len(snapshot.LitterBoxes))
	}
	id, err := resolveDevice("litter box", litterBoxDevice, litterBoxNames(snapshot))
	if err != nil {
		return nil, err
	}
	return snapshot.LitterBoxes[id], nil
}
