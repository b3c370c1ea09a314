package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-posemusic/internal/config"
	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/internal/tui"
	"github.com/teslashibe/go-posemusic/pkg/camera"
	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/midiout"
	"github.com/teslashibe/go-posemusic/pkg/pacing"
	"github.com/teslashibe/go-posemusic/pkg/pose"
	"github.com/teslashibe/go-posemusic/pkg/render"
	"github.com/teslashibe/go-posemusic/pkg/session"
	"github.com/teslashibe/go-posemusic/pkg/settings"
	"github.com/teslashibe/go-posemusic/pkg/web"
)

type runOptions struct {
	device       string
	tier         string
	noMirror     bool
	poseURL      string
	model        string
	inferTimeout time.Duration
	midiPort     string
	channel      int
	settingsPath string
	mode         string
	port         int
	staticDir    string
	noWeb        bool
	noRecord     bool
	notes        string
	tui          bool
	logFile      string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture, track and play live",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLive(cmd, &runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.device, "device", "0", "capture device index or stream URL")
	f.StringVar(&runOpts.tier, "tier", camera.Preset720p, "initial capture tier: low, 720p or 1080p")
	f.BoolVar(&runOpts.noMirror, "no-mirror", false, "do not mirror the rendered skeleton")
	f.StringVar(&runOpts.poseURL, "pose-url", config.PoseURL(""), "remote estimator, http(s):// or ws(s):// (POSE_URL); empty runs MoveNet locally")
	f.StringVar(&runOpts.model, "model", pose.DefaultMoveNetConfig().ModelPath, "MoveNet ONNX model for local estimation")
	f.DurationVar(&runOpts.inferTimeout, "infer-timeout", time.Second, "timeout for one estimate")
	f.StringVar(&runOpts.midiPort, "midi-port", config.MIDIPort(), "MIDI output port, substring match (MIDI_PORT); empty logs commands")
	f.IntVar(&runOpts.channel, "channel", 1, "MIDI channel 1-16")
	f.StringVar(&runOpts.settingsPath, "settings", "", "settings JSON file, watched for changes")
	f.StringVar(&runOpts.mode, "mode", "", "mapping mode: "+modeList())
	f.IntVar(&runOpts.port, "port", config.HTTPPort(), "dashboard port (HTTP_PORT)")
	f.StringVar(&runOpts.staticDir, "static", "", "directory served at / by the dashboard")
	f.BoolVar(&runOpts.noWeb, "no-web", false, "disable the dashboard and control API")
	f.BoolVar(&runOpts.noRecord, "no-record", false, "do not record the session")
	f.StringVar(&runOpts.notes, "notes", "", "notes stored with the session")
	f.BoolVar(&runOpts.tui, "tui", false, "show the terminal view")
	f.StringVar(&runOpts.logFile, "log-file", "posemusic.log", "log file used while the terminal view is up")
	rootCmd.AddCommand(runCmd)
}

func modeList() string {
	names := make([]string, 0, len(mapping.Modes()))
	for _, m := range mapping.Modes() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

func runLive(cmd *cobra.Command, o *runOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if o.tui {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		log.InitWriter(logLevel, f)
	}
	logger := log.L()

	// Step 1: Resolve tuning from defaults, the settings file and flags
	cfg := loop.DefaultConfig()
	cfg.InferTimeout = o.inferTimeout
	cfg.Mirrored = !o.noMirror
	tierName := o.tier
	if o.settingsPath != "" {
		s, err := settings.Load(o.settingsPath)
		switch {
		case err == nil:
			cfg = s.Apply(cfg)
			if s.Tier != nil && !cmd.Flags().Changed("tier") {
				tierName = *s.Tier
			}
		case errors.Is(err, os.ErrNotExist):
			logger.Info("settings file not found, using defaults", "path", o.settingsPath)
		default:
			return err
		}
	}
	if o.mode != "" {
		mode, ok := mapping.ParseMode(o.mode)
		if !ok {
			return fmt.Errorf("unknown mode %q (want one of %s)", o.mode, modeList())
		}
		cfg.Mapping.Mode = mode
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	// Step 2: Open the camera at the starting tier
	tiers := camera.Tiers()
	tierIdx := camera.TierIndex(tiers, tierName)
	if tierIdx < 0 {
		return fmt.Errorf("unknown tier %q", tierName)
	}
	camCfg := tiers[tierIdx].Config
	camCfg.Device = o.device
	camCfg.Mirror = cfg.Mirrored

	capture, err := camera.OpenCapture(camCfg)
	if err != nil {
		return err
	}
	defer capture.Close()

	cams := camera.NewManager(camCfg)
	cams.OnConfigChange = capture.Apply
	quality := pacing.NewQualityTuner(pacing.DefaultQualityConfig(), tiers, tierIdx, cams, logger)

	// Step 3: Pose estimation backend
	estimator, err := newEstimator(o)
	if err != nil {
		return err
	}
	defer estimator.Close()

	// Step 4: Command output
	sink, closeSink, err := newSink(o, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	// Step 5: Session recording
	var hooks []loop.Hooks
	sessionID := ""
	if !o.noRecord {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sess, err := store.Start(ctx, string(cfg.Mapping.Mode), o.notes, time.Now())
		if err != nil {
			return err
		}
		rec := session.NewRecorder(store, sess, logger)
		defer func() {
			closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := rec.Close(closeCtx, time.Now()); err != nil {
				logger.Warn("failed to close session", "error", err)
			}
			if n := rec.Dropped(); n > 0 {
				logger.Warn("session records dropped", "count", n)
			}
		}()
		hooks = append(hooks, rec.Hooks())
		sessionID = sess.ID
	}

	// Step 6: Dashboard, rendering and the terminal view
	var coordinator *render.Coordinator
	var srv *web.Server
	if !o.noWeb {
		srv = web.NewServer(web.Config{
			Port:         o.port,
			StaticDir:    o.staticDir,
			SettingsPath: o.settingsPath,
			Session:      sessionID,
			Camera:       cams,
		}, nil, logger)
		coordinator = render.NewCoordinator(render.NewHubRenderer(srv.RenderHub()), logger)
		hooks = append(hooks, srv.Hooks())
	}

	var tuiMsgs chan tea.Msg
	if o.tui {
		tuiMsgs = make(chan tea.Msg, 32)
		forward := func(msg tea.Msg) {
			select {
			case tuiMsgs <- msg:
			default:
			}
		}
		hooks = append(hooks, loop.Hooks{
			OnEvent: func(e loop.Event) { forward(tui.EventMsg(e)) },
			OnCommands: func(at time.Time, cmds []mapping.Command) {
				if len(cmds) > 0 {
					forward(tui.CommandMsg(cmds[len(cmds)-1]))
				}
			},
		})
	}

	// Step 7: The loop itself
	interval := time.Second / time.Duration(max(camCfg.Framerate, 1))
	sched := loop.NewTickerScheduler(interval)
	l, err := loop.New(cfg, loop.Deps{
		Scheduler: sched,
		Source:    capture,
		Estimator: estimator,
		Sink:      sink,
		Render:    coordinator,
		Quality:   quality,
	}, loop.WithLogger(logger), loop.WithHooks(loop.MergeHooks(hooks...)))
	if err != nil {
		return err
	}

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("scheduler stopped", "error", err)
		}
	}()
	if err := l.Start(ctx); err != nil {
		return err
	}

	if srv != nil {
		srv.SetController(l)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("dashboard failed", "error", err)
			}
		}()
	}

	if o.settingsPath != "" {
		go func() {
			err := settings.Watch(ctx, o.settingsPath, settings.DefaultWatchDelay, func(s *settings.Settings) {
				if err := web.ApplySettings(l, s); err != nil {
					logger.Warn("settings rejected", "error", err)
					return
				}
				logger.Info("settings reloaded")
			}, logger)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("settings watch stopped", "error", err)
			}
		}()
	}

	logger.Info("posemusic running",
		"mode", cfg.Mapping.Mode,
		"tier", tiers[tierIdx].Name,
		"session", sessionID,
		"interval", interval)

	if o.tui {
		_, errc := tui.Start(l, l.Done(), tuiMsgs, tea.WithAltScreen())
		select {
		case err := <-errc:
			if err != nil {
				logger.Warn("terminal view failed", "error", err)
			}
		case <-l.Done():
		}
	} else {
		fmt.Printf("🎵 posemusic running (%s, %s). Ctrl+C to stop.\n", cfg.Mapping.Mode, tiers[tierIdx])
		select {
		case <-ctx.Done():
		case <-l.Done():
		}
	}

	l.Stop()
	<-l.Done()
	p := l.Status()
	fmt.Printf("👋 stopped after %d ticks, %d estimates, %d commands\n",
		p.Counters.Ticks, p.Counters.Estimates, p.Counters.Commands)
	return nil
}

func newEstimator(o *runOptions) (pose.Estimator, error) {
	url := o.poseURL
	switch {
	case url == "":
		cfg := pose.DefaultMoveNetConfig()
		cfg.ModelPath = o.model
		return pose.NewMoveNet(cfg)
	case strings.HasPrefix(url, "ws://"), strings.HasPrefix(url, "wss://"):
		return pose.NewWSEstimator(url, o.inferTimeout), nil
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return pose.NewHTTPEstimator(url, o.inferTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported pose URL %q", url)
	}
}

// newSink opens the MIDI port, or logs commands when no port is named.
func newSink(o *runOptions, logger *slog.Logger) (loop.Sink, func(), error) {
	if o.midiPort == "" {
		logger.Warn("no MIDI port, commands are only logged")
		return loop.SinkFunc(func(c mapping.Command) error {
			logger.Debug("command", "kind", c.Kind, "pitch", c.Pitch, "velocity", c.Velocity)
			return nil
		}), func() {}, nil
	}

	mcfg := midiout.DefaultConfig()
	mcfg.Channel = uint8(o.channel - 1)
	if errs := mcfg.Validate(); len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid MIDI config: %s", strings.Join(errs, "; "))
	}
	out, err := midiout.Open(o.midiPort, mcfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return out, func() {
		if err := out.Panic(); err != nil {
			logger.Warn("MIDI panic failed", "error", err)
		}
		out.Close()
	}, nil
}
