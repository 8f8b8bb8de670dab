package mux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
)

// ErrMalformed is returned when a file is not a readable fragmented MP4.
var ErrMalformed = errors.New("malformed fragmented mp4")

// File is a fully demuxed fragmented MP4.
type File struct {
	Tracks []*Track
}

// ReadFile demuxes the fragmented MP4 at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// Parse demuxes a complete fragmented MP4 held in memory.
func Parse(data []byte) (*File, error) {
	var (
		file   *File
		byID   = map[int]*Track{}
		offset int
	)

	for offset < len(data) {
		size, typ, err := boxHeader(data[offset:])
		if err != nil {
			return nil, err
		}
		box := data[offset : offset+size]

		switch typ {
		case "moov":
			var init fmp4.Init
			if err := init.Unmarshal(bytes.NewReader(box)); err != nil {
				return nil, fmt.Errorf("%w: moov: %v", ErrMalformed, err)
			}
			file = &File{}
			for _, it := range init.Tracks {
				t := &Track{ID: it.ID, TimeScale: it.TimeScale, Codec: it.Codec}
				file.Tracks = append(file.Tracks, t)
				byID[it.ID] = t
			}

		case "moof":
			if file == nil {
				return nil, fmt.Errorf("%w: fragment before init", ErrMalformed)
			}
			next := offset + size
			if next >= len(data) {
				return nil, fmt.Errorf("%w: moof without mdat", ErrMalformed)
			}
			mdatSize, mdatType, err := boxHeader(data[next:])
			if err != nil {
				return nil, err
			}
			if mdatType != "mdat" {
				return nil, fmt.Errorf("%w: moof followed by %s", ErrMalformed, mdatType)
			}
			if err := appendParts(byID, data[offset:next+mdatSize]); err != nil {
				return nil, err
			}
			size += mdatSize
		}

		offset += size
	}

	if file == nil {
		return nil, fmt.Errorf("%w: no moov box", ErrMalformed)
	}
	return file, nil
}

func appendParts(byID map[int]*Track, fragment []byte) error {
	var parts fmp4.Parts
	if err := parts.Unmarshal(fragment); err != nil {
		return fmt.Errorf("%w: fragment: %v", ErrMalformed, err)
	}
	for _, part := range parts {
		for _, pt := range part.Tracks {
			t, ok := byID[pt.ID]
			if !ok {
				continue
			}
			if len(t.Samples) == 0 {
				t.BaseTime = pt.BaseTime
			}
			t.Samples = append(t.Samples, pt.Samples...)
		}
	}
	return nil
}

// boxHeader returns the total size and type of the box at the start of b.
func boxHeader(b []byte) (int, string, error) {
	if len(b) < 8 {
		return 0, "", fmt.Errorf("%w: truncated box header", ErrMalformed)
	}
	size := uint64(binary.BigEndian.Uint32(b[0:4]))
	typ := string(b[4:8])
	switch size {
	case 0:
		size = uint64(len(b))
	case 1:
		if len(b) < 16 {
			return 0, "", fmt.Errorf("%w: truncated extended header", ErrMalformed)
		}
		size = binary.BigEndian.Uint64(b[8:16])
	}
	if size < 8 || size > uint64(len(b)) {
		return 0, "", fmt.Errorf("%w: box %q size %d exceeds data", ErrMalformed, typ, size)
	}
	return int(size), typ, nil
}

// FirstVideo returns the first video track, or nil.
func (f *File) FirstVideo() *Track {
	for _, t := range f.Tracks {
		if t.IsVideo() {
			return t
		}
	}
	return nil
}

// AudioTracks returns every non-video track.
func (f *File) AudioTracks() []*Track {
	var out []*Track
	for _, t := range f.Tracks {
		if !t.IsVideo() {
			out = append(out, t)
		}
	}
	return out
}

// FirstAudio returns the first audio track, or nil.
func (f *File) FirstAudio() *Track {
	if a := f.AudioTracks(); len(a) > 0 {
		return a[0]
	}
	return nil
}

// Duration returns the length of the longest track.
func (f *File) Duration() time.Duration {
	var d time.Duration
	for _, t := range f.Tracks {
		d = max(d, t.Duration())
	}
	return d
}
