// Package render holds audio outputs that pull from a player and the
// software gain they share.
package render

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/zsiec/reel/media"
)

// ErrFormat is returned when an output cannot render the decoded format.
var ErrFormat = errors.New("render: unsupported sample format")

// CheckFormat reports whether info is interleaved S16LE PCM, the only
// format outputs accept.
func CheckFormat(info media.AudioInfo) error {
	if info.Format != media.SampleS16 || info.Channels <= 0 || info.SampleRate <= 0 {
		return ErrFormat
	}
	return nil
}

// ApplyVolume scales S16LE samples in buf by volume, or silences them when
// mute is set. A volume of 1 leaves buf untouched.
func ApplyVolume(buf []byte, volume float64, mute bool) {
	if mute || volume <= 0 {
		clear(buf)
		return
	}
	if volume >= 1 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(buf[i:])))
		v := int16(math.Round(s * volume))
		binary.LittleEndian.PutUint16(buf[i:], uint16(v))
	}
}
