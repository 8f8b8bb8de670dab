package mux

import (
	"errors"
	"fmt"
	"io"
	"os"

	gomp4 "github.com/abema/go-mp4"
)

// ErrInvalidRotation is returned for angles that are not a multiple of 90.
var ErrInvalidRotation = errors.New("rotation must be 0, 90, 180 or 270 degrees")

const (
	fixed16 = 0x10000
	fixed30 = 0x40000000
)

// rotationMatrix returns the tkhd display matrix for a clockwise rotation.
func rotationMatrix(degrees int) ([9]int32, error) {
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return [9]int32{fixed16, 0, 0, 0, fixed16, 0, 0, 0, fixed30}, nil
	case 90:
		return [9]int32{0, fixed16, 0, -fixed16, 0, 0, 0, 0, fixed30}, nil
	case 180:
		return [9]int32{-fixed16, 0, 0, 0, -fixed16, 0, 0, 0, fixed30}, nil
	case 270:
		return [9]int32{0, -fixed16, 0, fixed16, 0, 0, 0, 0, fixed30}, nil
	}
	return [9]int32{}, fmt.Errorf("%w: %d", ErrInvalidRotation, degrees)
}

func matrixDegrees(m [9]int32) (int, bool) {
	for _, deg := range []int{0, 90, 180, 270} {
		want, _ := rotationMatrix(deg)
		if m == want {
			return deg, true
		}
	}
	return 0, false
}

var tkhdPath = gomp4.BoxPath{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeTkhd()}

// SetRotation rewrites the display matrix of every video track in the MP4
// at path, in place.
func SetRotation(path string, degrees int) error {
	matrix, err := rotationMatrix(degrees)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	boxes, err := gomp4.ExtractBoxWithPayload(f, nil, tkhdPath)
	if err != nil {
		return fmt.Errorf("reading track headers: %w", err)
	}

	patched := 0
	for _, bip := range boxes {
		tkhd, ok := bip.Payload.(*gomp4.Tkhd)
		if !ok || tkhd.Width == 0 || tkhd.Height == 0 {
			continue
		}
		tkhd.Matrix = matrix
		if _, err := f.Seek(int64(bip.Info.Offset+bip.Info.HeaderSize), io.SeekStart); err != nil {
			return fmt.Errorf("seeking to tkhd: %w", err)
		}
		if _, err := gomp4.Marshal(f, tkhd, bip.Info.Context); err != nil {
			return fmt.Errorf("writing tkhd: %w", err)
		}
		patched++
	}
	if patched == 0 {
		return fmt.Errorf("%s: %w", path, ErrNoVideo)
	}
	return f.Sync()
}

// Rotation returns the clockwise rotation of the first video track.
func Rotation(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	boxes, err := gomp4.ExtractBoxWithPayload(f, nil, tkhdPath)
	if err != nil {
		return 0, fmt.Errorf("reading track headers: %w", err)
	}
	for _, bip := range boxes {
		tkhd, ok := bip.Payload.(*gomp4.Tkhd)
		if !ok || tkhd.Width == 0 {
			continue
		}
		deg, ok := matrixDegrees(tkhd.Matrix)
		if !ok {
			return 0, fmt.Errorf("unrecognised display matrix %v", tkhd.Matrix)
		}
		return deg, nil
	}
	return 0, ErrNoVideo
}
