package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List all devices on the account",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
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

	out := outputMode{json: jsonOutput}
	if out.json {
		out.printJSON(snapshot)
		return nil
	}

	rows := [][]string{{"KIND", "NAME", "ID", "DETAIL"}}
	for id, fountain := range snapshot.Fountains {
		rows = append(rows, []string{"fountain", fountain.Name, strconv.FormatInt(id, 10),
			fmt.Sprintf("mode=%d power=%d filter=%d%%", fountain.Mode, fountain.PowerStatus, fountain.FilterLife)})
	}
	for id, box := range snapshot.LitterBoxes {
		detail := fmt.Sprintf("power=%d", box.State.Power)
		if box.ManuallyPaused {
			detail += " paused"
		}
		rows = append(rows, []string{"litterbox", box.Name, strconv.FormatInt(id, 10), detail})
	}
	for id, feeder := range snapshot.Feeders {
		rows = append(rows, []string{"feeder", feeder.Name, strconv.FormatInt(id, 10), feeder.Type})
	}
	for id, purifier := range snapshot.Purifiers {
		rows = append(rows, []string{"purifier", purifier.Name, strconv.FormatInt(id, 10),
			fmt.Sprintf("power=%d", purifier.State.Power)})
	}
	for _, pet := range snapshot.Pets {
		rows = append(rows, []string{"pet", pet.Name, pet.ID.String(), pet.Type.Name})
	}
	out.table(rows)
	return nil
}
