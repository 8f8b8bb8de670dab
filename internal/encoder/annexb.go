package encoder

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// auSplitter cuts an Annex-B byte stream into access units at each access
// unit delimiter. The encoder must be configured to insert delimiters.
type auSplitter struct {
	buf []byte
}

var startCode3 = []byte{0x00, 0x00, 0x01}

// Write appends data and returns every access unit that is now complete.
func (s *auSplitter) Write(data []byte) [][]byte {
	s.buf = append(s.buf, data...)

	var out [][]byte
	for {
		first := findAUD(s.buf, 0)
		if first < 0 {
			return out
		}
		next := findAUD(s.buf, first+len(startCode3)+1)
		if next < 0 {
			if first > 0 {
				s.buf = s.buf[first:]
			}
			return out
		}
		out = append(out, append([]byte(nil), s.buf[first:next]...))
		s.buf = s.buf[next:]
	}
}

// Flush returns the trailing access unit, if any.
func (s *auSplitter) Flush() []byte {
	if findAUD(s.buf, 0) < 0 {
		s.buf = nil
		return nil
	}
	out := s.buf
	s.buf = nil
	return out
}

// findAUD returns the offset of the start code preceding the next access
// unit delimiter at or after from, including a leading zero byte of a
// four-byte start code.
func findAUD(b []byte, from int) int {
	for from < len(b) {
		i := bytes.Index(b[from:], startCode3)
		if i < 0 {
			return -1
		}
		pos := from + i
		if pos+3 >= len(b) {
			return -1
		}
		if h264.NALUType(b[pos+3]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
			if pos > 0 && b[pos-1] == 0x00 {
				pos--
			}
			return pos
		}
		from = pos + 3
	}
	return -1
}

// parseAccessUnit splits one Annex-B access unit into NAL units.
func parseAccessUnit(data []byte) ([][]byte, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, err
	}
	return au, nil
}
