package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_CloneIsDeep(t *testing.T) {
	f := &Frame{
		Number:     7,
		Color:      NewPixelBuffer(4, 2, PixelFormatRGBA),
		Depth:      NewPixelBuffer(2, 2, PixelFormatDepthFloat32),
		Confidence: NewPixelBuffer(2, 2, PixelFormatGray8),
		Timestamp:  33 * time.Millisecond,
	}
	f.Color.Data[0] = 10
	f.Depth.SetFloat32(1, 1, 2.5)
	f.Confidence.Data[3] = 2

	c := f.Clone()
	f.Color.Data[0] = 99
	f.Depth.SetFloat32(1, 1, 9)
	f.Confidence.Data[3] = 0

	assert.Equal(t, uint64(7), c.Number)
	assert.Equal(t, byte(10), c.Color.Data[0])
	assert.InDelta(t, 2.5, c.Depth.Float32At(1, 1), 1e-6)
	assert.Equal(t, byte(2), c.Confidence.Data[3])
	assert.Equal(t, f.Timestamp, c.Timestamp)
}

func TestFrame_CloneOptionalPlanes(t *testing.T) {
	f := &Frame{Number: 1, Color: NewPixelBuffer(1, 1, PixelFormatBGRA)}
	c := f.Clone()
	assert.Nil(t, c.Depth)
	assert.Nil(t, c.Confidence)

	var nilFrame *Frame
	assert.Nil(t, nilFrame.Clone())
}

func TestPixelBuffer_Packed(t *testing.T) {
	p := &PixelBuffer{Width: 2, Height: 2, Stride: 3, Format: PixelFormatGray8, Data: []byte{1, 2, 0, 3, 4, 0}}
	assert.Equal(t, []byte{1, 2, 3, 4}, p.Packed())

	tight := NewPixelBuffer(2, 2, PixelFormatGray8)
	assert.Len(t, tight.Packed(), 4)
}

func TestPixelBuffer_Resolution(t *testing.T) {
	p := NewPixelBuffer(256, 192, PixelFormatDepthFloat32)
	assert.Equal(t, []int{192, 256}, p.Resolution())
}

func TestPixelBuffer_Float32NaN(t *testing.T) {
	p := NewPixelBuffer(1, 1, PixelFormatDepthFloat32)
	p.SetFloat32(0, 0, float32(math.NaN()))
	assert.True(t, math.IsNaN(float64(p.Float32At(0, 0))))
}

func TestPoseInfo_Record(t *testing.T) {
	pose := PoseInfo{
		Timestamp:        1500 * time.Millisecond,
		ExposureDuration: 8 * time.Millisecond,
		EulerAngles:      [3]float32{0.1, 0.2, 0.3},
	}
	pose.Intrinsics[0][0] = 500
	pose.Transform[3][3] = 1

	data, err := json.Marshal(pose.Record())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 1500000000, decoded["timestamp"])
	assert.EqualValues(t, 8000000, decoded["exposure_duration"])
	assert.Contains(t, decoded, "euler_angles")
	assert.Contains(t, decoded, "intrinsics")
	assert.Contains(t, decoded, "transform")
}

func TestPoseInfo_FlatIntrinsics(t *testing.T) {
	var pose PoseInfo
	pose.Intrinsics = [3][3]float32{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, pose.FlatIntrinsics())
}

func TestPixelFormat_String(t *testing.T) {
	assert.Equal(t, "rgba", PixelFormatRGBA.String())
	assert.Equal(t, "bgra", PixelFormatBGRA.String())
	assert.Equal(t, 1, PixelFormatGray8.BytesPerPixel())
}
