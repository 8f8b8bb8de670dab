package mux

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
)

// marshalInit renders the ftyp+moov initialization segment for tracks.
func marshalInit(tracks []*Track) ([]byte, error) {
	init := &fmp4.Init{Tracks: make([]*fmp4.InitTrack, 0, len(tracks))}
	for _, t := range tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.ID,
			TimeScale: t.TimeScale,
			Codec:     t.Codec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("marshaling init segment: %w", err)
	}
	return buf.Bytes(), nil
}

// marshalPart renders one moof+mdat fragment.
func marshalPart(seq uint32, tracks []*fmp4.PartTrack) ([]byte, error) {
	part := &fmp4.Part{
		SequenceNumber: seq,
		Tracks:         tracks,
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("marshaling fragment %d: %w", seq, err)
	}
	return buf.Bytes(), nil
}
