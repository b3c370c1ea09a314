package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/midiout"
	"github.com/teslashibe/go-posemusic/pkg/session"
	"github.com/teslashibe/go-posemusic/pkg/settings"
)

var (
	replaySessionID string
	replaySettings  string
	replayMode      string
	replayMIDIPort  string
	replayList      bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run a recorded session's poses through the mapping again",
	Long: `Replay feeds the estimates recorded in a session back through a fresh
loop, one tick per recorded frame. Use it to hear how different settings
or modes would have played the same performance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sess, err := resolveSession(ctx, store, replaySessionID)
		if err != nil {
			return err
		}

		cfg := loop.DefaultConfig()
		cfg.Mapping.Mode = mapping.Mode(sess.Mode)
		if replaySettings != "" {
			s, err := settings.Load(replaySettings)
			if err != nil {
				return err
			}
			cfg = s.Apply(cfg)
		}
		if replayMode != "" {
			mode, ok := mapping.ParseMode(replayMode)
			if !ok {
				return fmt.Errorf("unknown mode %q (want one of %s)", replayMode, modeList())
			}
			cfg.Mapping.Mode = mode
		}

		opts := session.ReplayOptions{
			Config:   cfg,
			Progress: os.Stderr,
			Logger:   log.L(),
		}
		if replayMIDIPort != "" {
			out, err := midiout.Open(replayMIDIPort, midiout.DefaultConfig(), log.L())
			if err != nil {
				return err
			}
			defer out.Close()
			defer out.Panic()
			opts.Sink = out
		}

		res, err := session.ReplaySession(ctx, store, sess.ID, opts)
		if err != nil {
			return err
		}

		fmt.Printf("🔁 replayed %s: %d frames, %d commands (%s)\n",
			sess.ID, res.Frames, len(res.Commands), cfg.Mapping.Mode)
		if replayList {
			printCommands(res.Commands)
		}
		return nil
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replaySessionID, "session", "latest", "session id, or latest")
	f.StringVar(&replaySettings, "settings", "", "settings JSON applied before replaying")
	f.StringVar(&replayMode, "mode", "", "mapping mode override")
	f.StringVar(&replayMIDIPort, "midi-port", "", "play the replay on this MIDI port")
	f.BoolVar(&replayList, "list", false, "print every command")
	rootCmd.AddCommand(replayCmd)
}

func printCommands(cmds []session.CommandRecord) {
	if len(cmds) == 0 {
		return
	}
	start := cmds[0].At
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "T+MS\tKIND\tDETAIL")
	for _, r := range cmds {
		c := r.Command
		var detail string
		switch c.Kind {
		case mapping.KindNoteOn:
			detail = fmt.Sprintf("pitch=%d vel=%.2f", c.Pitch, c.Velocity)
		case mapping.KindNoteOff:
			detail = fmt.Sprintf("pitch=%d", c.Pitch)
		case mapping.KindPitchBend:
			detail = fmt.Sprintf("%+.2f/%g semitones", c.Semitones, c.Range)
		case mapping.KindParam:
			detail = fmt.Sprintf("%s=%.3f", c.Name, c.Value)
		case mapping.KindTempo:
			detail = fmt.Sprintf("%.1f bpm", c.BPM)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", r.At.Sub(start).Milliseconds(), c.Kind, detail)
	}
	w.Flush()
}
