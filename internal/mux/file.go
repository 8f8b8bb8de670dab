package mux

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
)

// WriteTracks writes tracks as a fragmented MP4 to w, cutting a fragment
// every fragmentDuration of presentation time. Track IDs must be unique.
func WriteTracks(w io.Writer, tracks []*Track, fragmentDuration time.Duration) error {
	if len(tracks) == 0 {
		return fmt.Errorf("no tracks to write")
	}
	if fragmentDuration <= 0 {
		fragmentDuration = time.Second
	}

	data, err := marshalInit(tracks)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing init segment: %w", err)
	}

	type cursor struct {
		next int
		dts  uint64
	}
	cursors := make([]cursor, len(tracks))
	for i, t := range tracks {
		cursors[i].dts = t.BaseTime
	}

	seq := uint32(1)
	for window := fragmentDuration; ; window += fragmentDuration {
		var parts []*fmp4.PartTrack
		remaining := false

		for i, t := range tracks {
			c := &cursors[i]
			limit := DurationToTicks(window, t.TimeScale)
			start, base := c.next, c.dts
			for c.next < len(t.Samples) && c.dts < limit {
				c.dts += uint64(t.Samples[c.next].Duration)
				c.next++
			}
			if c.next > start {
				parts = append(parts, &fmp4.PartTrack{
					ID:       t.ID,
					BaseTime: base,
					Samples:  t.Samples[start:c.next],
				})
			}
			if c.next < len(t.Samples) {
				remaining = true
			}
		}

		if len(parts) > 0 {
			frag, err := marshalPart(seq, parts)
			if err != nil {
				return err
			}
			if _, err := w.Write(frag); err != nil {
				return fmt.Errorf("writing fragment %d: %w", seq, err)
			}
			seq++
		}
		if !remaining {
			return nil
		}
	}
}

// WriteFile writes tracks to path and syncs it to disk.
func WriteFile(path string, tracks []*Track, fragmentDuration time.Duration) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := WriteTracks(bw, tracks, fragmentDuration); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return f.Sync()
}
