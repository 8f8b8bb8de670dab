package preview

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/storage"
)

// ThumbnailQuality is the default thumbnail JPEG quality.
const ThumbnailQuality = 80

// WriteThumbnail writes <dir>/<id>_thumbnail.jpg from a color buffer,
// rotated a quarter turn clockwise to match the video display matrix.
func WriteThumbnail(dir, recordingID string, pixels *models.PixelBuffer, quality int) (string, error) {
	if quality <= 0 {
		quality = ThumbnailQuality
	}
	img, err := ToImage(pixels)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, Rotate90(img, true), quality); err != nil {
		return "", err
	}

	sb, err := storage.NewSandbox(dir)
	if err != nil {
		return "", err
	}
	name := recordingID + models.SuffixThumbnail
	if err := sb.AtomicWrite(name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("writing thumbnail: %w", err)
	}
	return filepath.Join(sb.BaseDir(), name), nil
}
