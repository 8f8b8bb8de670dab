package mux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// ErrNoVideo is returned by Close when no decodable video was written.
var ErrNoVideo = errors.New("no video samples written")

// ErrWriterClosed is returned when writing to a closed Writer.
var ErrWriterClosed = errors.New("writer closed")

const (
	videoTrackID = 1
	audioTrackID = 2
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	Logger *slog.Logger
	// Audio adds an AAC track when set.
	Audio *mpeg4audio.AudioSpecificConfig
	// FragmentDuration is the amount of video buffered per moof+mdat.
	FragmentDuration time.Duration
	// DefaultFrameDuration is used for the last sample and for samples
	// whose timestamp does not advance.
	DefaultFrameDuration time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		FragmentDuration:     time.Second,
		DefaultFrameDuration: time.Second / 30,
	}
}

// DefaultAudioConfig is the AAC-LC configuration used for microphone audio.
func DefaultAudioConfig() *mpeg4audio.AudioSpecificConfig {
	return &mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   48000,
		ChannelCount: 1,
	}
}

// Writer muxes H.264 access units and optional AAC frames into a
// fragmented MP4 stream. The init segment is written once the first
// keyframe carrying SPS and PPS arrives; earlier video is discarded.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	config WriterConfig
	logger *slog.Logger

	sps []byte
	pps []byte

	initWritten bool
	closed      bool
	seq         uint32

	fragmentTicks     uint64
	defaultFrameTicks uint64

	pendingVideo    *fmp4.Sample
	pendingVideoDTS uint64
	videoSamples    []*fmp4.Sample
	videoBase       uint64
	videoStarted    bool
	bufferedTicks   uint64

	audioSamples []*fmp4.Sample
	audioBase    uint64
	audioStarted bool

	stats WriterStats
}

// WriterStats holds muxing statistics.
type WriterStats struct {
	VideoSamples  int   `json:"video_samples"`
	AudioSamples  int   `json:"audio_samples"`
	DroppedVideo  int   `json:"dropped_video"`
	DroppedAudio  int   `json:"dropped_audio"`
	Fragments     int   `json:"fragments"`
	BytesWritten  int64 `json:"bytes_written"`
	KeyframeCount int   `json:"keyframe_count"`
}

// NewWriter creates a Writer emitting to w.
func NewWriter(w io.Writer, config WriterConfig) *Writer {
	defaults := DefaultWriterConfig()
	if config.FragmentDuration <= 0 {
		config.FragmentDuration = defaults.FragmentDuration
	}
	if config.DefaultFrameDuration <= 0 {
		config.DefaultFrameDuration = defaults.DefaultFrameDuration
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Writer{
		w:                 w,
		config:            config,
		logger:            config.Logger,
		seq:               1,
		fragmentTicks:     DurationToTicks(config.FragmentDuration, VideoTimeScale),
		defaultFrameTicks: max(DurationToTicks(config.DefaultFrameDuration, VideoTimeScale), 1),
	}
}

// WriteVideo adds one H.264 access unit presented at pts.
func (m *Writer) WriteVideo(pts time.Duration, au [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrWriterClosed
	}

	nalus, keyframe := m.filterAccessUnit(au)
	if len(nalus) == 0 {
		return nil
	}

	if !m.initWritten {
		if !keyframe || m.sps == nil || m.pps == nil {
			m.stats.DroppedVideo++
			return nil
		}
		if err := m.writeInit(); err != nil {
			return err
		}
	}

	dts := DurationToTicks(pts, VideoTimeScale)
	if m.pendingVideo != nil {
		duration := m.defaultFrameTicks
		if dts > m.pendingVideoDTS {
			duration = dts - m.pendingVideoDTS
		}
		m.pendingVideo.Duration = uint32(duration)
		m.videoSamples = append(m.videoSamples, m.pendingVideo)
		m.bufferedTicks += duration
		dts = m.pendingVideoDTS + duration
	} else if !m.videoStarted {
		m.videoBase = dts
		m.videoStarted = true
	}

	sample := &fmp4.Sample{}
	if err := sample.FillH264(0, nalus); err != nil {
		return fmt.Errorf("building video sample: %w", err)
	}
	sample.IsNonSyncSample = !keyframe
	m.pendingVideo = sample
	m.pendingVideoDTS = dts
	m.stats.VideoSamples++
	if keyframe {
		m.stats.KeyframeCount++
	}

	if m.bufferedTicks >= m.fragmentTicks {
		return m.writeFragment()
	}
	return nil
}

// WriteAudio adds one raw AAC access unit. The first accepted frame anchors
// the audio track at pts; later frames are laid out contiguously.
func (m *Writer) WriteAudio(pts time.Duration, au []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrWriterClosed
	}
	if m.config.Audio == nil || len(au) == 0 {
		return nil
	}
	if !m.initWritten {
		m.stats.DroppedAudio++
		return nil
	}

	if !m.audioStarted {
		m.audioBase = DurationToTicks(pts, uint32(m.config.Audio.SampleRate))
		m.audioStarted = true
	}

	payload := make([]byte, len(au))
	copy(payload, au)
	m.audioSamples = append(m.audioSamples, &fmp4.Sample{
		Duration: AACFrameSamples,
		Payload:  payload,
	})
	m.stats.AudioSamples++
	return nil
}

// Close flushes the buffered samples. It returns ErrNoVideo when no
// keyframe ever arrived, in which case nothing was written.
func (m *Writer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if !m.initWritten {
		return ErrNoVideo
	}

	if m.pendingVideo != nil {
		m.pendingVideo.Duration = uint32(m.defaultFrameTicks)
		m.videoSamples = append(m.videoSamples, m.pendingVideo)
		m.pendingVideo = nil
	}
	return m.writeFragment()
}

// Stats returns muxing statistics.
func (m *Writer) Stats() WriterStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// filterAccessUnit strips delimiters, records parameter sets and reports
// whether the unit holds an IDR slice.
func (m *Writer) filterAccessUnit(au [][]byte) ([][]byte, bool) {
	out := make([][]byte, 0, len(au))
	keyframe := false
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeAccessUnitDelimiter:
			continue
		case h264.NALUTypeSPS:
			m.sps = append([]byte(nil), nalu...)
		case h264.NALUTypePPS:
			m.pps = append([]byte(nil), nalu...)
		case h264.NALUTypeIDR:
			keyframe = true
		}
		out = append(out, nalu)
	}
	return out, keyframe
}

func (m *Writer) writeInit() error {
	tracks := []*Track{{
		ID:        videoTrackID,
		TimeScale: VideoTimeScale,
		Codec:     &mp4.CodecH264{SPS: m.sps, PPS: m.pps},
	}}
	if m.config.Audio != nil {
		tracks = append(tracks, &Track{
			ID:        audioTrackID,
			TimeScale: uint32(m.config.Audio.SampleRate),
			Codec:     &mp4.CodecMPEG4Audio{Config: *m.config.Audio},
		})
	}

	data, err := marshalInit(tracks)
	if err != nil {
		return err
	}
	if err := m.emit(data); err != nil {
		return fmt.Errorf("writing init segment: %w", err)
	}
	m.initWritten = true
	m.logger.Debug("fmp4 init segment written",
		slog.Bool("audio", m.config.Audio != nil),
		slog.Int("sps_len", len(m.sps)))
	return nil
}

func (m *Writer) writeFragment() error {
	if len(m.videoSamples) == 0 && len(m.audioSamples) == 0 {
		return nil
	}

	var tracks []*fmp4.PartTrack
	if len(m.videoSamples) > 0 {
		tracks = append(tracks, &fmp4.PartTrack{
			ID:       videoTrackID,
			BaseTime: m.videoBase,
			Samples:  m.videoSamples,
		})
		for _, s := range m.videoSamples {
			m.videoBase += uint64(s.Duration)
		}
		m.videoSamples = nil
	}
	if len(m.audioSamples) > 0 {
		tracks = append(tracks, &fmp4.PartTrack{
			ID:       audioTrackID,
			BaseTime: m.audioBase,
			Samples:  m.audioSamples,
		})
		for _, s := range m.audioSamples {
			m.audioBase += uint64(s.Duration)
		}
		m.audioSamples = nil
	}

	data, err := marshalPart(m.seq, tracks)
	if err != nil {
		return err
	}
	if err := m.emit(data); err != nil {
		return fmt.Errorf("writing fragment %d: %w", m.seq, err)
	}
	m.seq++
	m.bufferedTicks = 0
	m.stats.Fragments++
	return nil
}

func (m *Writer) emit(data []byte) error {
	n, err := m.w.Write(data)
	m.stats.BytesWritten += int64(n)
	return err
}
