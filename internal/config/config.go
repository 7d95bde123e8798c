// Package config loads the reel binary's configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/zsiec/reel/player"
)

// Audio outputs.
const (
	OutputNull   = "null"
	OutputDevice = "device"
)

var ErrInvalid = errors.New("config: invalid")

// Config holds the binary's settings.
type Config struct {
	APIAddr     string
	APITLS      bool // serve the API over HTTPS with a self-signed certificate
	MinCache    time.Duration
	MaxCache    time.Duration
	Volume      float64
	Loop        bool
	Mute        bool
	ChunkSize   int
	AudioOutput string
	PCMPath     string // null output only; empty discards
	HTTP3       bool
	SRTLatency  time.Duration
	Debug       bool
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv.
func LoadFrom(getenv func(string) string) (*Config, error) {
	e := env{getenv: getenv}
	d := player.DefaultSettings()
	c := &Config{
		APIAddr:     e.getString("REEL_API_ADDR", ":4480"),
		APITLS:      e.getBool("REEL_API_TLS", false),
		MinCache:    e.getDuration("REEL_MIN_CACHE", d.MinCacheTime),
		MaxCache:    e.getDuration("REEL_MAX_CACHE", d.MaxCacheTime),
		Volume:      e.getFloat("REEL_VOLUME", d.Volume),
		Loop:        e.getBool("REEL_LOOP", false),
		Mute:        e.getBool("REEL_MUTE", false),
		ChunkSize:   e.getInt("REEL_CHUNK_SIZE", 32<<10),
		AudioOutput: e.getString("REEL_AUDIO_OUTPUT", OutputNull),
		PCMPath:     e.getString("REEL_PCM_OUT", ""),
		HTTP3:       e.getBool("REEL_HTTP3", false),
		SRTLatency:  e.getDuration("REEL_SRT_LATENCY", 120*time.Millisecond),
		Debug:       getenv("DEBUG") != "",
	}
	if e.err != nil {
		return nil, e.err
	}
	return c, c.Validate()
}

// Validate checks the values that Settings does not cover.
func (c *Config) Validate() error {
	switch c.AudioOutput {
	case OutputNull, OutputDevice:
	default:
		return fmt.Errorf("%w: audio output %q", ErrInvalid, c.AudioOutput)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalid, c.ChunkSize)
	}
	if c.PCMPath != "" && c.AudioOutput != OutputNull {
		return fmt.Errorf("%w: pcm output requires the null audio output", ErrInvalid)
	}
	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Settings returns the player settings derived from c.
func (c *Config) Settings() player.Settings {
	s := player.DefaultSettings()
	s.Loop = c.Loop
	s.Mute = c.Mute
	s.Volume = c.Volume
	s.MinCacheTime = c.MinCache
	s.MaxCacheTime = c.MaxCache
	return s
}

// env collects the first parse failure so Load reports it once.
type env struct {
	getenv func(string) string
	err    error
}

func (e *env) getString(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e *env) getInt(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) getFloat(key string, def float64) float64 {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *env) getBool(key string, def bool) bool {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *env) getDuration(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q: %w", ErrInvalid, key, v, err)
	}
}
