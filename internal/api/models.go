package api

import (
	"time"

	"github.com/zsiec/reel/internal/session"
)

type playerInfo struct {
	Key        string    `json:"key"`
	ID         string    `json:"id"`
	Paths      []string  `json:"paths"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	PositionMS int64     `json:"position_ms"`
	CachedMS   int64     `json:"cached_ms"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	HasAudio   bool      `json:"has_audio"`
	HasVideo   bool      `json:"has_video"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
	Volume     float64   `json:"volume"`
	Mute       bool      `json:"mute"`
	Loop       bool      `json:"loop"`
}

func describe(s *session.Session) playerInfo {
	p := s.Player
	info := p.Info()
	settings := p.Settings()
	return playerInfo{
		Key:        s.Key,
		ID:         p.ID(),
		Paths:      s.Paths,
		State:      p.State().String(),
		StartedAt:  s.StartedAt,
		PositionMS: p.CurrentPlayedTime().Milliseconds(),
		CachedMS:   p.CacheTime().Milliseconds(),
		DurationMS: info.Duration.Milliseconds(),
		HasAudio:   info.HasAudio,
		HasVideo:   info.HasVideo,
		SampleRate: info.Audio.SampleRate,
		Channels:   info.Audio.Channels,
		Volume:     settings.Volume,
		Mute:       settings.Mute,
		Loop:       settings.Loop,
	}
}
