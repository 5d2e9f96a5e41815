// Package config provides environment-based configuration for emofuse commands.
// A .env file in the working directory is loaded automatically if present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default endpoints and ports.
const (
	DefaultServerPort    = "8000"
	DefaultFaceClassURL  = "http://localhost:8001"
	DefaultAudioClassURL = "http://localhost:8002"
	DefaultRobotURL      = "http://localhost:9559"
	DefaultRoom          = "default"
)

func init() {
	// Missing .env is not an error; env vars still apply.
	_ = godotenv.Load()
}

// String returns the env var value or the provided default.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the env var parsed as int or the provided default.
func Int(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Float returns the env var parsed as float64 or the provided default.
func Float(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the env var parsed as bool or the provided default.
func Bool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration returns the env var parsed as a duration or the provided default.
func Duration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// ServerPort returns the fusiond listen port.
func ServerPort() string {
	return String("EMOFUSE_PORT", DefaultServerPort)
}

// ServerURL returns the fusiond base URL for clients.
func ServerURL() string {
	return String("EMOFUSE_URL", "http://localhost:"+DefaultServerPort)
}

// FaceClassifierURL returns the facial emotion classifier base URL.
func FaceClassifierURL() string {
	return String("FACE_CLASSIFIER_URL", DefaultFaceClassURL)
}

// AudioClassifierURL returns the vocal emotion classifier base URL.
func AudioClassifierURL() string {
	return String("AUDIO_CLASSIFIER_URL", DefaultAudioClassURL)
}

// RobotURL returns the actuator endpoint base URL.
func RobotURL() string {
	return String("ROBOT_URL", DefaultRobotURL)
}

// Room returns the room identifier for single-room commands.
func Room() string {
	return String("EMOFUSE_ROOM", DefaultRoom)
}
