package player

import "github.com/zsiec/reel/media"

// AudioRenderer is an audio output that pulls PCM from the player on its own
// goroutine. The player opens it once the decoded format is known and may
// open it again when the format changes.
//
// pull fills its argument with the next bytes and returns how many were
// written. A short count means the pipeline had nothing more to give; the
// renderer outputs silence for the rest.
type AudioRenderer interface {
	Open(info media.AudioInfo, pull func(p []byte) int) error
	Play()
	Pause()
	Stop()
	Flush()
	SetVolume(v float64)
	SetMute(mute bool)
	Close() error
}

// VideoRenderer presents decoded frames obtained from Player.NextVideoFrame.
type VideoRenderer interface {
	Open(info media.VideoInfo) error
	SetRenderSize(width, height int)
	Flush()
	Close() error
}
