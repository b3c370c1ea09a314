package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-posemusic/pkg/camera"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/midiout"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI output ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := midiout.Ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No MIDI output ports found.")
			return nil
		}
		for i, p := range ports {
			fmt.Printf("%2d  %s\n", i, p)
		}
		return nil
	},
}

var modesCmd = &cobra.Command{
	Use:     "modes",
	Aliases: []string{"scales"},
	Short:   "List mapping modes, scales and capture tiers",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Modes:")
		for _, m := range mapping.Modes() {
			marker := " "
			if m == mapping.DefaultMode {
				marker = "*"
			}
			fmt.Printf("  %s %s\n", marker, m)
		}
		fmt.Println("Scales:")
		for _, s := range mapping.ScaleNames() {
			marker := " "
			if s == mapping.DefaultScale {
				marker = "*"
			}
			fmt.Printf("  %s %s\n", marker, s)
		}
		fmt.Println("Tiers:")
		for _, t := range camera.Tiers() {
			fmt.Printf("    %s\n", t)
		}
	},
}

func init() {
	rootCmd.AddCommand(portsCmd, modesCmd)
}
