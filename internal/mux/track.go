// Package mux reads and writes the fragmented MP4 files produced by the
// video recorders and consumed by the audio merge.
package mux

import (
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// Timescales used for new tracks.
const (
	VideoTimeScale = 90000
	// AACFrameSamples is the number of PCM samples per AAC-LC access unit.
	AACFrameSamples = 1024
)

// Track is one elementary stream with its samples in decode order.
type Track struct {
	ID        int
	TimeScale uint32
	Codec     mp4.Codec
	// BaseTime is the decode time of the first sample, in TimeScale units.
	BaseTime uint64
	Samples  []*fmp4.Sample
}

// IsVideo reports whether the track carries video.
func (t *Track) IsVideo() bool {
	return t.Codec != nil && t.Codec.IsVideo()
}

// Ticks returns the summed sample durations.
func (t *Track) Ticks() uint64 {
	var total uint64
	for _, s := range t.Samples {
		total += uint64(s.Duration)
	}
	return total
}

// Duration returns the track length measured from time zero, including the
// base time offset of the first sample.
func (t *Track) Duration() time.Duration {
	if t.TimeScale == 0 {
		return 0
	}
	return TicksToDuration(t.BaseTime+t.Ticks(), t.TimeScale)
}

// TrimTo drops every sample that starts at or after d and shortens the
// last kept sample so the track ends at d.
func (t *Track) TrimTo(d time.Duration) {
	limit := DurationToTicks(d, t.TimeScale)
	if limit <= t.BaseTime {
		t.Samples = nil
		return
	}

	dts := t.BaseTime
	for i, s := range t.Samples {
		if dts >= limit {
			t.Samples = t.Samples[:i]
			return
		}
		end := dts + uint64(s.Duration)
		if end > limit {
			s.Duration = uint32(limit - dts)
			t.Samples = t.Samples[:i+1]
			return
		}
		dts = end
	}
}

// TicksToDuration converts timescale units to a duration.
func TicksToDuration(ticks uint64, timeScale uint32) time.Duration {
	sec := ticks / uint64(timeScale)
	rem := ticks % uint64(timeScale)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(timeScale)
}

// DurationToTicks converts a duration to timescale units. Negative
// durations map to zero.
func DurationToTicks(d time.Duration, timeScale uint32) uint64 {
	if d <= 0 {
		return 0
	}
	sec := uint64(d / time.Second)
	rem := uint64(d % time.Second)
	return sec*uint64(timeScale) + rem*uint64(timeScale)/uint64(time.Second)
}
