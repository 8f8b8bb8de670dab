package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/lidarcap/internal/compress"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/recorder"
)

// session is one recording. Fields below the frame queue marker are owned
// by the frame queue while the session is attached and by the control path
// once it is detached.
type session struct {
	id        string
	dir       string
	startedAt time.Time

	full      *recorder.Video
	aux       *recorder.Video
	fullAudio bool

	curated  atomic.Pointer[curatedSet]
	curating atomic.Bool

	// frame queue
	started       bool
	videoStart    time.Duration
	lastTimestamp time.Duration
	colorRes      []int
	depthRes      []int
	intrinsics    []float32

	totalFrames   atomic.Uint64
	curatedFrames atomic.Uint64
	dropped       atomic.Uint64
}

// snapshot records the stream geometry and intrinsics from f.
func (s *session) snapshot(f *models.Frame) {
	if f == nil {
		return
	}
	if f.Color != nil {
		s.colorRes = f.Color.Resolution()
	}
	if f.Depth != nil {
		s.depthRes = f.Depth.Resolution()
	}
	s.intrinsics = f.Pose.FlatIntrinsics()
}

func (s *session) recorderStats() []recorder.Stats {
	out := []recorder.Stats{s.full.Stats()}
	if s.aux != nil {
		out = append(out, s.aux.Stats())
	}
	if set := s.curated.Load(); set != nil {
		out = append(out, set.video.Stats(), set.depth.Stats(), set.confidence.Stats(), set.poses.Stats())
	}
	return out
}

func (s *session) path(suffix string) string {
	return filepath.Join(s.dir, s.id+suffix)
}

// curatedSet holds the recorders fed with curated frames.
type curatedSet struct {
	video      *recorder.Video
	depth      *recorder.Depth
	confidence *recorder.Confidence
	poses      *recorder.PoseLog

	finished bool
	// empty is set when the curated video never received a frame.
	empty bool
}

func (cs *curatedSet) prepare(dir, id string) error {
	for _, r := range cs.all() {
		if err := r.Prepare(dir, id); err != nil {
			return err
		}
	}
	return nil
}

func (cs *curatedSet) all() []recorder.Recorder {
	return []recorder.Recorder{cs.video, cs.depth, cs.confidence, cs.poses}
}

// feed runs on the frame queue.
func (cs *curatedSet) feed(f *models.Frame) {
	cs.video.Update(f.Color, f.Timestamp)
	cs.depth.Update(f.Depth)
	cs.confidence.Update(f.Confidence)
	cs.poses.Update(f.Pose)
}

// finish finalizes every curated recorder concurrently.
func (cs *curatedSet) finish(ctx context.Context) error {
	if cs.finished {
		return nil
	}
	cs.finished = true

	var g errgroup.Group
	g.Go(func() error {
		err := cs.video.Finish(ctx)
		if errors.Is(err, recorder.ErrEmptyVideo) {
			cs.empty = true
			return nil
		}
		return err
	})
	for _, r := range cs.all()[1:] {
		g.Go(func() error { return r.Finish(ctx) })
	}
	return g.Wait()
}

// expectedFiles lists the outputs that must exist after a successful stop.
// The auxiliary video is never expected: it is merged and removed.
func (s *session) expectedFiles(codec compress.Codec) []string {
	files := []string{s.path(models.SuffixFullVideo)}
	set := s.curated.Load()
	if set == nil {
		return files
	}
	if !set.empty {
		files = append(files, s.path(models.SuffixGoodVideo))
	}
	return append(files,
		s.path(planeSuffix(models.ExtDepth, codec)),
		s.path(planeSuffix(models.ExtConfidence, codec)),
		s.path("."+models.ExtPoseLog),
	)
}

func planeSuffix(ext string, codec compress.Codec) string {
	return "." + ext + "." + codec.Extension()
}

// descriptors builds the manifest stream table. File names are only set
// for streams whose recorder ran.
func (s *session) descriptors(fps int, codec compress.Codec) []models.StreamDescriptor {
	total := int(s.totalFrames.Load())
	curated := int(s.curatedFrames.Load())
	set := s.curated.Load()

	full := models.StreamDescriptor{
		ID:             models.StreamFullVideo,
		Encoding:       models.EncodingH264,
		Frequency:      fps,
		NumberOfFrames: total,
		FileExtension:  "mp4",
		FileName:       s.id + models.SuffixFullVideo,
		Resolution:     s.colorRes,
		Intrinsics:     s.intrinsics,
	}
	good := models.StreamDescriptor{
		ID:             models.StreamGoodVideo,
		Encoding:       models.EncodingH264,
		Frequency:      fps,
		NumberOfFrames: curated,
		FileExtension:  "mp4",
		Resolution:     s.colorRes,
		Intrinsics:     s.intrinsics,
	}
	depthExt := models.ExtDepth + "." + codec.Extension()
	depth := models.StreamDescriptor{
		ID:             models.StreamDepth,
		Encoding:       models.DepthEncoding(codec.Name()),
		Frequency:      fps,
		NumberOfFrames: curated,
		FileExtension:  depthExt,
		Resolution:     s.depthRes,
	}
	confExt := models.ExtConfidence + "." + codec.Extension()
	confidence := models.StreamDescriptor{
		ID:             models.StreamConfidence,
		Encoding:       models.ConfidenceEncoding(codec.Name()),
		Frequency:      fps,
		NumberOfFrames: curated,
		FileExtension:  confExt,
	}
	poses := models.StreamDescriptor{
		ID:             models.StreamCameraInfo,
		Encoding:       models.EncodingJSONL,
		Frequency:      fps,
		NumberOfFrames: curated,
		FileExtension:  models.ExtPoseLog,
	}
	if set != nil {
		if !set.empty {
			good.FileName = s.id + models.SuffixGoodVideo
		}
		depth.FileName = s.id + "." + depthExt
		confidence.FileName = s.id + "." + confExt
		poses.FileName = s.id + "." + models.ExtPoseLog
	}
	return []models.StreamDescriptor{full, good, depth, confidence, poses}
}
