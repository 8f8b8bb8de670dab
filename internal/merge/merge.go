// Package merge splices the audio track of one recording into the video of
// another.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/lidarcap/internal/mux"
	"github.com/jmylchreest/lidarcap/internal/observability"
	"github.com/jmylchreest/lidarcap/internal/storage"
)

var (
	// ErrNoAudioTrackInSource is returned when the source carries no audio.
	ErrNoAudioTrackInSource = errors.New("source has no audio track")
	// ErrNoVideoTrackInTarget is returned when the target carries no video.
	ErrNoVideoTrackInTarget = errors.New("target has no video track")
	// ErrExportFailed wraps any failure while producing the merged file.
	ErrExportFailed = errors.New("export failed")
)

// TempSuffix is appended to the target while the merged file is written.
const TempSuffix = ".temp"

// Options configures MergeAudio.
type Options struct {
	// KeepExistingAudio keeps the target's own audio tracks after the
	// spliced one.
	KeepExistingAudio bool
	// RotationDegrees is written to the video track's display matrix.
	RotationDegrees  int
	FragmentDuration time.Duration
	Logger           *slog.Logger
}

// MergeAudio replaces target with a file holding target's video and
// source's first audio track, both trimmed to the shorter of the two
// durations. The target is replaced atomically; on any failure it is left
// untouched and no temporary file remains.
func MergeAudio(ctx context.Context, source, target string, opts Options) (_ string, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "merge")
	done := observability.TimedOperationWithError(ctx, logger, "merge_audio", &err)
	defer done()

	src, err := mux.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	audio := src.FirstAudio()
	if audio == nil || len(audio.Samples) == 0 {
		return "", ErrNoAudioTrackInSource
	}

	dst, err := mux.ReadFile(target)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	video := dst.FirstVideo()
	if video == nil || len(video.Samples) == 0 {
		return "", ErrNoVideoTrackInTarget
	}

	tracks := composition(video, audio, dst.AudioTracks(), opts.KeepExistingAudio)
	logger.DebugContext(ctx, "merging audio",
		slog.String("source", source),
		slog.String("target", target),
		slog.Int("tracks", len(tracks)),
		slog.Duration("duration", tracks[0].Duration()))

	if err := export(ctx, target, tracks, opts); err != nil {
		return "", fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return target, nil
}

// composition lays out the merged tracks: video first, the spliced audio
// second, then any kept target audio. Everything is trimmed to the
// shorter of the video and the spliced audio.
func composition(video, audio *mux.Track, existing []*mux.Track, keepExisting bool) []*mux.Track {
	length := min(video.Duration(), audio.Duration())

	tracks := []*mux.Track{video, audio}
	if keepExisting {
		tracks = append(tracks, existing...)
	}
	for i, t := range tracks {
		t.ID = i + 1
		t.TrimTo(length)
	}
	return tracks
}

func export(ctx context.Context, target string, tracks []*mux.Track, opts Options) (err error) {
	temp := target + TempSuffix
	defer func() {
		if err != nil {
			os.Remove(temp)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := mux.WriteFile(temp, tracks, opts.FragmentDuration); err != nil {
		return err
	}
	if err := mux.SetRotation(temp, opts.RotationDegrees); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return storage.ReplaceFile(temp, target)
}
