package player

import (
	"errors"
	"fmt"
	"time"
)

// Settings are the user-facing playback parameters.
type Settings struct {
	Loop   bool
	Mute   bool
	Volume float64 // 0..1

	// MinCacheTime and MaxCacheTime bound the decoded-but-unrendered
	// media buffered ahead of the playhead. Reading pauses above the
	// maximum and resumes below the minimum.
	MinCacheTime time.Duration
	MaxCacheTime time.Duration

	RenderWidth  int
	RenderHeight int

	// VideoTolerance is how early a video frame may be presented relative
	// to the clock.
	VideoTolerance time.Duration
}

// DefaultSettings returns settings suitable for local file playback.
func DefaultSettings() Settings {
	return Settings{
		Volume:         1,
		MinCacheTime:   time.Second,
		MaxCacheTime:   3 * time.Second,
		VideoTolerance: 20 * time.Millisecond,
	}
}

// ErrInvalidSettings is wrapped by every Validate failure.
var ErrInvalidSettings = errors.New("player: invalid settings")

// Validate checks that s describes a usable configuration.
func (s Settings) Validate() error {
	switch {
	case s.Volume < 0 || s.Volume > 1:
		return fmt.Errorf("%w: volume %v outside [0, 1]", ErrInvalidSettings, s.Volume)
	case s.MinCacheTime < 0:
		return fmt.Errorf("%w: negative min cache time %v", ErrInvalidSettings, s.MinCacheTime)
	case s.MaxCacheTime <= s.MinCacheTime:
		return fmt.Errorf("%w: max cache time %v must exceed min %v", ErrInvalidSettings, s.MaxCacheTime, s.MinCacheTime)
	case s.RenderWidth < 0 || s.RenderHeight < 0:
		return fmt.Errorf("%w: render size %dx%d", ErrInvalidSettings, s.RenderWidth, s.RenderHeight)
	case s.VideoTolerance < 0:
		return fmt.Errorf("%w: negative video tolerance", ErrInvalidSettings)
	}
	return nil
}
