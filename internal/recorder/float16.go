package recorder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/jmylchreest/lidarcap/internal/models"
)

// InvalidDepth replaces NaN depth samples.
const InvalidDepth = -1

// AppendDepth appends the plane as little-endian float16 values in row
// order. NaN becomes InvalidDepth.
func AppendDepth(dst []byte, plane *models.PixelBuffer) []byte {
	for y := 0; y < plane.Height; y++ {
		for x := 0; x < plane.Width; x++ {
			v := plane.Float32At(x, y)
			if math.IsNaN(float64(v)) {
				v = InvalidDepth
			}
			dst = binary.LittleEndian.AppendUint16(dst, float16.Fromfloat32(v).Bits())
		}
	}
	return dst
}

// DecodeDepth converts little-endian float16 bytes back to float32.
func DecodeDepth(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("depth data has odd length %d", len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[2*i:])).Float32()
	}
	return out, nil
}
