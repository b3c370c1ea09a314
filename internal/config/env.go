// Package config provides process-level configuration helpers for posemusic commands.
// Runtime (hot-reloadable) tuning lives in pkg/settings.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults used when neither a flag nor an environment variable is set.
const (
	DefaultHTTPPort  = 8090
	DefaultMIDIPort  = ""
	DefaultSessionDB = "posemusic.db"
	DefaultLogLevel  = "info"
)

// PoseURL returns the pose estimation endpoint from POSE_URL.
// An http(s):// URL selects the HTTP estimator, ws(s):// the websocket one.
func PoseURL(fallback string) string {
	return envOr("POSE_URL", fallback)
}

// MIDIPort returns the MIDI output port name (substring match) from MIDI_PORT.
func MIDIPort() string {
	return envOr("MIDI_PORT", DefaultMIDIPort)
}

// SessionDB returns the SQLite session database path from SESSION_DB.
func SessionDB() string {
	return envOr("SESSION_DB", DefaultSessionDB)
}

// LogLevel returns the log level from LOG_LEVEL.
func LogLevel() string {
	return envOr("LOG_LEVEL", DefaultLogLevel)
}

// HTTPPort returns the dashboard port from HTTP_PORT.
// Falls back to DefaultHTTPPort when unset or not a number.
func HTTPPort() int {
	v := os.Getenv("HTTP_PORT")
	if v == "" {
		return DefaultHTTPPort
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "Warning: ignoring invalid HTTP_PORT %q\n", v)
		return DefaultHTTPPort
	}
	return port
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
