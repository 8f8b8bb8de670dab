package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/lidarcap/internal/compress"
	"github.com/jmylchreest/lidarcap/internal/encoder"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/mux"
)

const testID = "01JTESTRECORDING000000000"

func zlibCodec(t *testing.T) compress.Codec {
	t.Helper()
	c, err := compress.Lookup(compress.Zlib, 0)
	require.NoError(t, err)
	return c
}

func depthPlane(values ...float32) *models.PixelBuffer {
	p := models.NewPixelBuffer(len(values), 1, models.PixelFormatDepthFloat32)
	for i, v := range values {
		p.SetFloat32(i, 0, v)
	}
	return p
}

func nullVideo(mode TimestampMode, audio bool) *Video {
	cfg := VideoConfig{
		Stream:          models.StreamFullVideo,
		Suffix:          models.SuffixFullVideo,
		Encoder:         func() encoder.Encoder { return encoder.NewNull(256) },
		Mode:            mode,
		TargetFPS:       30,
		RotationDegrees: 90,
	}
	if audio {
		cfg.Audio = mux.DefaultAudioConfig()
	}
	return NewVideo(cfg, Options{QueueDepth: 256})
}

func TestAppendDepth_NaNBecomesInvalid(t *testing.T) {
	nan := float32(math.NaN())
	data := AppendDepth(nil, depthPlane(1.5, nan, 0.25, 4))
	require.Len(t, data, 8)

	got, err := DecodeDepth(data)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, InvalidDepth, 0.25, 4}, got)

	_, err = DecodeDepth([]byte{1})
	assert.Error(t, err)
}

func TestAppendDepth_HalfPrecisionError(t *testing.T) {
	in := []float32{0.1, 1.2345, 4.567, 0.333, 9.87}
	got, err := DecodeDepth(AppendDepth(nil, depthPlane(in...)))
	require.NoError(t, err)
	require.Len(t, got, len(in))

	for i, want := range in {
		assert.InEpsilon(t, want, got[i], 1e-3, "value %v", want)
	}
}

func TestDepth_WritesCompressedFloat16(t *testing.T) {
	dir := t.TempDir()
	d := NewDepth(zlibCodec(t), Options{})
	require.NoError(t, d.Prepare(dir, testID))

	d.Update(depthPlane(1, 2))
	d.Update(depthPlane(float32(math.NaN()), 3))
	require.NoError(t, d.Finish(context.Background()))

	assert.Equal(t, filepath.Join(dir, testID+".depth.zlib"), d.Path())
	assert.NoFileExists(t, filepath.Join(dir, testID+".depth"))

	raw, err := compress.ReadAll(zlibCodec(t), d.Path())
	require.NoError(t, err)
	values, err := DecodeDepth(raw)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, -1, 3}, values)
	assert.Equal(t, uint64(2), d.Stats().Written)
	assert.Equal(t, StateFinished, d.State())
}

func TestConfidence_RoundTripWithXZ(t *testing.T) {
	codec, err := compress.Lookup(compress.XZ, 0)
	require.NoError(t, err)

	dir := t.TempDir()
	c := NewConfidence(codec, Options{})
	require.NoError(t, c.Prepare(dir, testID))

	plane := models.NewPixelBuffer(2, 2, models.PixelFormatGray8)
	copy(plane.Data, []byte{0, 1, 2, 2})
	c.Update(plane)
	require.NoError(t, c.Finish(context.Background()))

	assert.Equal(t, filepath.Join(dir, testID+".confidence.xz"), c.Path())
	raw, err := compress.ReadAll(codec, c.Path())
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 2}, raw)
}

func TestPoseLog_JSONLines(t *testing.T) {
	dir := t.TempDir()
	p := NewPoseLog(Options{})
	require.NoError(t, p.Prepare(dir, testID))

	for i := 0; i < 3; i++ {
		p.Update(models.PoseInfo{Timestamp: time.Duration(i) * time.Second})
	}
	require.NoError(t, p.Finish(context.Background()))

	f, err := os.Open(filepath.Join(dir, testID+".jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var stamps []int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Contains(t, rec, "exposure_duration")
		stamps = append(stamps, int64(rec["timestamp"].(float64)))
	}
	assert.Equal(t, []int64{0, 1e9, 2e9}, stamps, "samples are written in FIFO order")
}

func TestLifecycle_FinishUnpreparedCompletesImmediately(t *testing.T) {
	p := NewPoseLog(Options{})
	assert.NoError(t, p.Finish(context.Background()))
	assert.Equal(t, StateUnprepared, p.State())

	p.Update(models.PoseInfo{})
	assert.Zero(t, p.Stats().Written)
	assert.Zero(t, p.Stats().Dropped)
}

func TestLifecycle_UpdatesAfterFinishIgnored(t *testing.T) {
	dir := t.TempDir()
	p := NewPoseLog(Options{})
	require.NoError(t, p.Prepare(dir, testID))
	p.Update(models.PoseInfo{})
	require.NoError(t, p.Finish(context.Background()))

	p.Update(models.PoseInfo{})
	assert.Equal(t, uint64(1), p.Stats().Written)
	assert.NoError(t, p.Finish(context.Background()), "second finish is a no-op")
}

func TestLifecycle_UpdatesRacingFinishAreNotDrops(t *testing.T) {
	dir := t.TempDir()
	p := NewPoseLog(Options{QueueDepth: 4096})
	require.NoError(t, p.Prepare(dir, testID))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 200; i++ {
				p.Update(models.PoseInfo{Timestamp: time.Duration(i) * time.Millisecond})
			}
		}()
	}
	close(start)
	require.NoError(t, p.Finish(context.Background()))
	wg.Wait()

	// The queue never fills, so a failed post can only mean Finish closed it.
	assert.Zero(t, p.Stats().Dropped)
	assert.LessOrEqual(t, p.Stats().Written, uint64(8*200))
}

func TestLifecycle_DoublePrepare(t *testing.T) {
	dir := t.TempDir()
	p := NewPoseLog(Options{})
	require.NoError(t, p.Prepare(dir, testID))
	assert.ErrorIs(t, p.Prepare(dir, testID), ErrAlreadyPrepared)
	require.NoError(t, p.Finish(context.Background()))
}

func TestLifecycle_PrepareFailureSurfacesOnFinish(t *testing.T) {
	p := NewPoseLog(Options{})
	require.NoError(t, p.Prepare(filepath.Join(t.TempDir(), "missing"), testID))
	p.Update(models.PoseInfo{})
	assert.Error(t, p.Finish(context.Background()))
	assert.Zero(t, p.Stats().Written)
}

func TestVideo_WallClock(t *testing.T) {
	dir := t.TempDir()
	v := nullVideo(WallClock, true)
	require.NoError(t, v.Prepare(dir, testID))

	base := 5 * time.Second
	for i := 0; i < 30; i++ {
		ts := base + time.Duration(i)*time.Second/30
		v.Update(models.NewPixelBuffer(4, 2, models.PixelFormatRGBA), ts)
		v.UpdateAudio([]byte{0x21, 0x00, 0x49, 0x90}, ts)
	}
	require.NoError(t, v.Finish(context.Background()))

	path := filepath.Join(dir, testID+models.SuffixFullVideo)
	assert.Equal(t, path, v.Path())

	f, err := mux.ReadFile(path)
	require.NoError(t, err)
	require.NotNil(t, f.FirstVideo())
	assert.Len(t, f.FirstVideo().Samples, 30)
	assert.Equal(t, uint64(0), f.FirstVideo().BaseTime, "timestamps are relative to the first frame")
	assert.NotNil(t, f.FirstAudio())

	deg, err := mux.Rotation(path)
	require.NoError(t, err)
	assert.Equal(t, 90, deg)
	assert.Equal(t, uint64(30), v.Stats().Written)
	assert.Equal(t, uint64(30), v.EncoderStats().AccessUnits)
}

func TestVideo_IndexTimestamps(t *testing.T) {
	dir := t.TempDir()
	v := nullVideo(IndexTimestamps, false)
	require.NoError(t, v.Prepare(dir, testID))

	// Sparse capture times collapse to a gapless 30fps clip.
	for _, n := range []int{0, 7, 8, 40, 41} {
		v.Update(models.NewPixelBuffer(4, 2, models.PixelFormatRGBA), time.Duration(n)*time.Second)
	}
	require.NoError(t, v.Finish(context.Background()))

	f, err := mux.ReadFile(v.Path())
	require.NoError(t, err)
	samples := f.FirstVideo().Samples
	require.Len(t, samples, 5)
	for _, s := range samples {
		assert.Equal(t, uint32(mux.VideoTimeScale/30), s.Duration)
	}
}

func TestVideo_EmptyRemovesFile(t *testing.T) {
	dir := t.TempDir()
	v := nullVideo(WallClock, false)
	require.NoError(t, v.Prepare(dir, testID))

	err := v.Finish(context.Background())
	assert.ErrorIs(t, err, ErrEmptyVideo)
	assert.NoFileExists(t, filepath.Join(dir, testID+models.SuffixFullVideo))
}

func TestVideo_QueueFullDropsSamples(t *testing.T) {
	dir := t.TempDir()
	block := make(chan struct{})
	v := NewVideo(VideoConfig{
		Stream:    models.StreamGoodVideo,
		Suffix:    models.SuffixGoodVideo,
		Encoder:   func() encoder.Encoder { return encoder.NewNull(1) },
		TargetFPS: 30,
	}, Options{QueueDepth: 1})
	require.NoError(t, v.Prepare(dir, testID))

	// Occupy the queue goroutine so posted samples pile up.
	require.NoError(t, v.currentQueue().Post(func() { <-block }))
	for i := 0; i < 10; i++ {
		v.Update(models.NewPixelBuffer(4, 2, models.PixelFormatRGBA), time.Duration(i))
	}
	close(block)
	_ = v.Finish(context.Background())

	stats := v.Stats()
	assert.Positive(t, stats.Dropped)
	assert.Equal(t, uint64(10), stats.Written+stats.Dropped)
}
