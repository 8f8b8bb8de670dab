package preview

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"golang.org/x/image/draw"

	"github.com/jmylchreest/lidarcap/internal/models"
)

// ToImage wraps a color buffer as an image. RGBA and Gray8 buffers are
// shared, BGRA is converted into a new RGBA image.
func ToImage(pb *models.PixelBuffer) (image.Image, error) {
	rect := image.Rect(0, 0, pb.Width, pb.Height)
	switch pb.Format {
	case models.PixelFormatRGBA:
		return &image.RGBA{Pix: pb.Data, Stride: pb.Stride, Rect: rect}, nil
	case models.PixelFormatGray8:
		return &image.Gray{Pix: pb.Data, Stride: pb.Stride, Rect: rect}, nil
	case models.PixelFormatBGRA:
		img := image.NewRGBA(rect)
		for y := 0; y < pb.Height; y++ {
			src := pb.Data[y*pb.Stride : y*pb.Stride+pb.Width*4]
			dst := img.Pix[y*img.Stride : y*img.Stride+pb.Width*4]
			for x := 0; x < len(src); x += 4 {
				dst[x], dst[x+1], dst[x+2], dst[x+3] = src[x+2], src[x+1], src[x], src[x+3]
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("no image conversion for %s", pb.Format)
}

// Scale resizes img by factor with bilinear filtering. Factors of 1 or
// more return img unchanged.
func Scale(img image.Image, factor float64) image.Image {
	if factor <= 0 || factor >= 1 {
		return img
	}
	b := img.Bounds()
	w := max(int(float64(b.Dx())*factor), 1)
	h := max(int(float64(b.Dy())*factor), 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Rotate90 rotates img by a quarter turn, clockwise when cw is true.
func Rotate90(img image.Image, cw bool) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sx, sy := x-b.Min.X, y-b.Min.Y
			if cw {
				dst.Set(b.Dy()-1-sy, sx, img.At(x, y))
			} else {
				dst.Set(sy, b.Dx()-1-sx, img.At(x, y))
			}
		}
	}
	return dst
}

// EncodeJPEG writes img as a baseline JPEG.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encoding jpeg: %w", err)
	}
	return nil
}
