package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/lidarcap/internal/manifest"
	"github.com/jmylchreest/lidarcap/internal/merge"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/mux"
	"github.com/jmylchreest/lidarcap/internal/observability"
	"github.com/jmylchreest/lidarcap/internal/preview"
	"github.com/jmylchreest/lidarcap/internal/recorder"
)

// StartRecording creates a session directory and starts the full video
// recorder, plus the auxiliary audio-bearing video when arEnabled and
// auxiliary capture is configured. It returns the recording id.
func (c *Coordinator) StartRecording(ctx context.Context, arEnabled bool) (_ string, err error) {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	if c.sess != nil {
		return "", ErrAlreadyCapturing
	}
	if err := c.checkResources(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}

	id := models.NewULID().String()
	logger := observability.WithRecordingID(c.logger, id)
	done := observability.TimedOperationWithError(ctx, logger, "start_recording", &err)
	defer done()

	dir, err := c.recordings.MkdirAll(id)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}

	s := &session{id: id, dir: dir, startedAt: time.Now().UTC(), fullAudio: c.cfg.Capture.FullVideoAudio}
	if err := c.frames.Do(ctx, func() { s.snapshot(c.latest) }); err != nil {
		c.discard(s)
		return "", err
	}

	fullCfg := c.videoConfig(models.StreamFullVideo, models.SuffixFullVideo, recorder.WallClock)
	if s.fullAudio {
		fullCfg.Audio = mux.DefaultAudioConfig()
	}
	s.full = recorder.NewVideo(fullCfg, c.recorderOptions(logger))
	if arEnabled && c.cfg.Capture.AuxCapture {
		auxCfg := c.videoConfig("ar_video", models.SuffixAuxVideo, recorder.WallClock)
		auxCfg.Audio = mux.DefaultAudioConfig()
		s.aux = recorder.NewVideo(auxCfg, c.recorderOptions(logger))
	}
	if err := s.full.Prepare(dir, id); err != nil {
		c.discard(s)
		return "", err
	}
	if s.aux != nil {
		if err := s.aux.Prepare(dir, id); err != nil {
			c.discard(s)
			return "", err
		}
	}

	if err := c.frames.Do(ctx, func() { c.active = s }); err != nil {
		c.discard(s)
		return "", err
	}
	c.sess = s
	c.current.Store(s)
	c.state.Store(int32(StateCapturing))

	logger.Info("recording started",
		slog.String("directory", dir),
		slog.Bool("aux_capture", s.aux != nil))

	if c.cfg.Capture.AutoLidar {
		if _, err := c.startCurated(ctx, s); err != nil {
			observability.WithError(logger, err).Warn("automatic curated capture failed to start")
		}
	}
	return id, nil
}

// discard finishes any prepared recorder of a session that failed to start
// and removes its directory.
func (c *Coordinator) discard(s *session) {
	ctx := context.Background()
	for _, v := range []*recorder.Video{s.full, s.aux} {
		if v != nil {
			_ = v.Finish(ctx)
		}
	}
	if err := c.recordings.RemoveAll(s.id); err != nil {
		observability.WithError(c.logger, err).Warn("removing abandoned session directory")
	}
}

func (c *Coordinator) videoConfig(stream, suffix string, mode recorder.TimestampMode) recorder.VideoConfig {
	return recorder.VideoConfig{
		Stream:           stream,
		Suffix:           suffix,
		Encoder:          c.newEncoder,
		Mode:             mode,
		TargetFPS:        c.cfg.Capture.TargetFPS,
		RotationDegrees:  c.cfg.Merge.RotationDegrees,
		FragmentDuration: c.cfg.Encoder.FragmentDuration,
	}
}

func (c *Coordinator) recorderOptions(logger *slog.Logger) recorder.Options {
	return recorder.Options{Logger: logger, QueueDepth: c.cfg.Capture.RecorderQueueDepth}
}

// StartLidarRecording starts the curated recorders. It returns the offset
// in milliseconds between the first frame of the full video and the most
// recent frame, or 0 when no frame has been recorded yet.
func (c *Coordinator) StartLidarRecording(ctx context.Context) (int64, error) {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	if c.sess == nil {
		return 0, ErrNotCapturing
	}
	return c.startCurated(ctx, c.sess)
}

func (c *Coordinator) startCurated(ctx context.Context, s *session) (int64, error) {
	if s.curated.Load() != nil {
		return 0, ErrAlreadyCurating
	}

	logger := observability.WithRecordingID(c.logger, s.id)
	opts := c.recorderOptions(logger)
	set := &curatedSet{
		video:      recorder.NewVideo(c.videoConfig(models.StreamGoodVideo, models.SuffixGoodVideo, recorder.IndexTimestamps), opts),
		depth:      recorder.NewDepth(c.codec, opts),
		confidence: recorder.NewConfidence(c.codec, opts),
		poses:      recorder.NewPoseLog(opts),
	}
	if err := set.prepare(s.dir, s.id); err != nil {
		_ = set.finish(context.Background())
		return 0, err
	}

	var offset time.Duration
	if err := c.frames.Do(ctx, func() {
		s.curated.Store(set)
		s.curating.Store(true)
		if s.started {
			offset = s.lastTimestamp - s.videoStart
		}
	}); err != nil {
		_ = set.finish(context.Background())
		return 0, err
	}
	c.state.Store(int32(StateCurating))

	logger.Info("curated capture started", slog.Int64("offset_ms", offset.Milliseconds()))
	return offset.Milliseconds(), nil
}

// StopLidarRecording stops feeding curated recorders and finalizes them.
// Stopping curated capture that was never started is a no-op.
func (c *Coordinator) StopLidarRecording(ctx context.Context) error {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	if c.sess == nil {
		return ErrNotCapturing
	}
	return c.stopCurated(ctx, c.sess)
}

func (c *Coordinator) stopCurated(ctx context.Context, s *session) error {
	set := s.curated.Load()
	if set == nil || set.finished {
		return nil
	}
	// Waiting on the frame queue lets an in-flight RecordGoodFrame complete
	// before the recorders close.
	if err := c.frames.Do(ctx, func() { s.curating.Store(false) }); err != nil {
		return err
	}
	err := set.finish(ctx)
	if c.sess == s {
		c.state.Store(int32(StateCapturing))
	}
	return err
}

// RecordGoodFrame commits frame number n and its neighbours within the
// configured radius to the curated streams. Frames that are not pooled or
// were already committed are skipped. It returns the number of frames
// committed by this call.
func (c *Coordinator) RecordGoodFrame(ctx context.Context, n uint64) (int, error) {
	var (
		committed int
		err       error
	)
	radius := uint64(max(c.cfg.Capture.GoodWindowRadius, 0))
	if doErr := c.frames.Do(ctx, func() {
		s := c.active
		if s == nil {
			err = ErrNotCapturing
			return
		}
		set := s.curated.Load()
		if set == nil || !s.curating.Load() {
			err = ErrNotCurating
			return
		}
		for _, f := range c.pool.RetrieveRange(n, radius) {
			set.feed(f)
			c.pool.Remove(f.Number)
			committed++
		}
		s.curatedFrames.Add(uint64(committed))
	}); doErr != nil {
		return 0, doErr
	}
	return committed, err
}

// StopResult describes a finished recording.
type StopResult struct {
	// RecordingID is empty when an expected output is missing.
	RecordingID string                    `json:"recording_id"`
	Directory   string                    `json:"directory"`
	Status      models.RecordingStatus    `json:"status"`
	HasAudio    bool                      `json:"has_audio"`
	MergeErr    error                     `json:"-"`
	Missing     []string                  `json:"missing,omitempty"`
	Streams     []models.StreamDescriptor `json:"streams"`
}

// StopRecording finalizes the active session: it detaches the session from
// the frame queue, finishes every recorder, merges auxiliary audio into
// the full video, writes the thumbnail and manifest and catalogs the
// recording. Stopping while idle returns (nil, nil).
//
// A failed merge does not fail the stop; the full video is kept without
// the merged audio and the result carries MergeErr. A missing expected
// output returns ErrMissingOutput with an empty RecordingID.
func (c *Coordinator) StopRecording(ctx context.Context) (_ *StopResult, err error) {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	s := c.sess
	if s == nil {
		return nil, nil
	}
	logger := observability.WithRecordingID(c.logger, s.id)
	done := observability.TimedOperationWithError(ctx, logger, "stop_recording", &err)
	defer done()

	var last *models.Frame
	if err := c.frames.Do(ctx, func() {
		c.active = nil
		last = c.latest
	}); err != nil {
		return nil, err
	}
	c.current.Store(nil)

	var (
		g      errgroup.Group
		auxErr error
	)
	g.Go(func() error { return s.full.Finish(ctx) })
	if s.aux != nil {
		g.Go(func() error {
			auxErr = s.aux.Finish(ctx)
			return auxErr
		})
	}
	if err := g.Wait(); err != nil {
		observability.WithError(logger, err).Warn("recorder finalization reported errors")
	}
	if err := c.stopCurated(ctx, s); err != nil {
		observability.WithError(logger, err).Warn("curated recorder finalization reported errors")
	}

	res := &StopResult{RecordingID: s.id, Directory: s.dir, Status: models.RecordingStatusCompleted}
	res.Missing = missingFiles(s.expectedFiles(c.codec))
	fullPath := s.path(models.SuffixFullVideo)

	if s.aux != nil && len(res.Missing) == 0 {
		c.mergeAux(ctx, logger, s, auxErr, fullPath, res)
	}
	if s.fullAudio && !res.HasAudio && fileExists(fullPath) {
		if f, err := mux.ReadFile(fullPath); err == nil && f.FirstAudio() != nil {
			res.HasAudio = true
		}
	}

	if c.cfg.Thumbnail.Enabled && last != nil {
		if _, err := preview.WriteThumbnail(s.dir, s.id, last.Color, c.cfg.Thumbnail.Quality); err != nil {
			observability.WithError(logger, err).Warn("thumbnail not written")
		}
	}

	res.Streams = s.descriptors(c.cfg.Capture.TargetFPS, c.codec)
	if _, err := manifest.Write(s.dir, s.id, c.device, res.Streams); err != nil {
		observability.WithError(logger, err).Error("manifest not written")
		res.Missing = append(res.Missing, manifest.FileName(s.id))
	}

	if len(res.Missing) > 0 {
		res.Status = models.RecordingStatusFailed
	}
	c.catalogRecording(ctx, logger, s, res)

	c.pool.Clear()
	c.preview.Reset()
	c.sess = nil
	c.state.Store(int32(StateIdle))

	logger.Info("recording stopped",
		slog.String("status", string(res.Status)),
		slog.Uint64("total_frames", s.totalFrames.Load()),
		slog.Uint64("curated_frames", s.curatedFrames.Load()),
		slog.Uint64("dropped_frames", s.dropped.Load()),
		slog.Bool("has_audio", res.HasAudio))

	if len(res.Missing) > 0 {
		res.RecordingID = ""
		return res, fmt.Errorf("%w: %s", ErrMissingOutput, strings.Join(res.Missing, ", "))
	}
	return res, nil
}

// mergeAux splices the auxiliary video's audio into the full video and
// removes the auxiliary file on success.
func (c *Coordinator) mergeAux(ctx context.Context, logger *slog.Logger, s *session, auxErr error, fullPath string, res *StopResult) {
	auxPath := s.path(models.SuffixAuxVideo)
	if auxErr != nil || !fileExists(auxPath) {
		logger.Warn("auxiliary video unavailable, full video kept without merged audio",
			slog.Any("aux_error", auxErr))
		return
	}

	_, err := merge.MergeAudio(ctx, auxPath, fullPath, merge.Options{
		KeepExistingAudio: c.cfg.Merge.KeepExistingAudio,
		RotationDegrees:   c.cfg.Merge.RotationDegrees,
		FragmentDuration:  c.cfg.Encoder.FragmentDuration,
		Logger:            logger,
	})
	if err != nil {
		res.MergeErr = err
		res.Status = models.RecordingStatusPartial
		observability.WithError(logger, err).Warn("audio merge failed, auxiliary video kept")
		return
	}
	res.HasAudio = true
	if err := os.Remove(auxPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		observability.WithError(logger, err).Warn("removing merged auxiliary video")
	}
}

func (c *Coordinator) catalogRecording(ctx context.Context, logger *slog.Logger, s *session, res *StopResult) {
	if c.catalog == nil {
		return
	}
	id, err := models.ParseULID(s.id)
	if err != nil {
		observability.WithError(logger, err).Error("recording id not a ulid")
		return
	}
	size, err := c.recordings.DirSize(s.id)
	if err != nil {
		observability.WithError(logger, err).Warn("measuring recording size")
	}
	rec := &models.Recording{
		Directory:     s.dir,
		Status:        res.Status,
		StartedAt:     s.startedAt,
		EndedAt:       time.Now().UTC(),
		TotalFrames:   int(s.totalFrames.Load()),
		CuratedFrames: int(s.curatedFrames.Load()),
		DroppedFrames: int(s.dropped.Load()),
		HasAudio:      res.HasAudio,
		SizeBytes:     size,
		DeviceName:    c.device.Name,
		Streams:       models.StreamsFromDescriptors(res.Streams),
	}
	rec.ID = id
	if res.MergeErr != nil {
		rec.MergeError = res.MergeErr.Error()
	}
	if err := c.catalog.Create(ctx, rec); err != nil {
		observability.WithError(logger, err).Error("recording not cataloged")
	}
}

func missingFiles(paths []string) []string {
	var missing []string
	for _, p := range paths {
		if !fileExists(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
