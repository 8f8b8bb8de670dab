package models

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// PixelFormat identifies the memory layout of a PixelBuffer.
type PixelFormat int

// Supported pixel formats.
const (
	PixelFormatRGBA PixelFormat = iota
	PixelFormatBGRA
	PixelFormatGray8
	PixelFormatDepthFloat32
)

// String returns the ffmpeg-style name of the format.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatGray8:
		return "gray"
	case PixelFormatDepthFloat32:
		return "grayf32le"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// BytesPerPixel returns the packed size of one pixel.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGBA, PixelFormatBGRA, PixelFormatDepthFloat32:
		return 4
	case PixelFormatGray8:
		return 1
	default:
		return 0
	}
}

// PixelBuffer is a single image plane. Stride is the row length in bytes
// and may exceed Width*BytesPerPixel.
type PixelBuffer struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Data   []byte
}

// NewPixelBuffer allocates a tightly packed buffer.
func NewPixelBuffer(width, height int, format PixelFormat) *PixelBuffer {
	stride := width * format.BytesPerPixel()
	return &PixelBuffer{
		Width:  width,
		Height: height,
		Stride: stride,
		Format: format,
		Data:   make([]byte, stride*height),
	}
}

// Clone returns a deep copy of the buffer.
func (p *PixelBuffer) Clone() *PixelBuffer {
	if p == nil {
		return nil
	}
	c := *p
	c.Data = make([]byte, len(p.Data))
	copy(c.Data, p.Data)
	return &c
}

// Packed returns the pixel data without row padding. The returned slice
// aliases Data when the buffer is already tightly packed.
func (p *PixelBuffer) Packed() []byte {
	rowBytes := p.Width * p.Format.BytesPerPixel()
	if p.Stride == rowBytes {
		return p.Data[:rowBytes*p.Height]
	}
	out := make([]byte, 0, rowBytes*p.Height)
	for y := 0; y < p.Height; y++ {
		off := y * p.Stride
		out = append(out, p.Data[off:off+rowBytes]...)
	}
	return out
}

// Float32At returns the depth value at (x, y) of a DepthFloat32 buffer.
func (p *PixelBuffer) Float32At(x, y int) float32 {
	off := y*p.Stride + x*4
	return math.Float32frombits(binary.LittleEndian.Uint32(p.Data[off : off+4]))
}

// SetFloat32 stores a depth value at (x, y) of a DepthFloat32 buffer.
func (p *PixelBuffer) SetFloat32(x, y int, v float32) {
	off := y*p.Stride + x*4
	binary.LittleEndian.PutUint32(p.Data[off:off+4], math.Float32bits(v))
}

// Resolution returns [height, width], the order used in manifests.
func (p *PixelBuffer) Resolution() []int {
	return []int{p.Height, p.Width}
}

// Frame is one synchronized capture from the sensor.
type Frame struct {
	Number     uint64
	Color      *PixelBuffer
	Depth      *PixelBuffer // optional, DepthFloat32
	Confidence *PixelBuffer // optional, Gray8
	Pose       PoseInfo
	// Timestamp is the monotonic capture time used as presentation time.
	Timestamp time.Duration
}

// Clone returns a deep copy of the frame. Sensors recycle their buffers, so
// a frame must be cloned before it outlives the sensor callback.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return &Frame{
		Number:     f.Number,
		Color:      f.Color.Clone(),
		Depth:      f.Depth.Clone(),
		Confidence: f.Confidence.Clone(),
		Pose:       f.Pose,
		Timestamp:  f.Timestamp,
	}
}

// PoseInfo is the camera state at capture time. Matrices are column-major.
type PoseInfo struct {
	Timestamp        time.Duration
	Intrinsics       [3][3]float32
	Transform        [4][4]float32
	EulerAngles      [3]float32
	ExposureDuration time.Duration
}

// FlatIntrinsics returns the intrinsics as nine column-major values.
func (p PoseInfo) FlatIntrinsics() []float32 {
	out := make([]float32, 0, 9)
	for _, col := range p.Intrinsics {
		out = append(out, col[:]...)
	}
	return out
}

// PoseRecord is the JSON-lines shape of a PoseInfo.
type PoseRecord struct {
	Timestamp        int64         `json:"timestamp"`
	Intrinsics       [3][3]float32 `json:"intrinsics"`
	Transform        [4][4]float32 `json:"transform"`
	EulerAngles      [3]float32    `json:"euler_angles"`
	ExposureDuration int64         `json:"exposure_duration"`
}

// Record converts the pose into its serialized form with nanosecond integers.
func (p PoseInfo) Record() PoseRecord {
	return PoseRecord{
		Timestamp:        p.Timestamp.Nanoseconds(),
		Intrinsics:       p.Intrinsics,
		Transform:        p.Transform,
		EulerAngles:      p.EulerAngles,
		ExposureDuration: p.ExposureDuration.Nanoseconds(),
	}
}
