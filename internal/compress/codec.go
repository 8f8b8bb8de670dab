// Package compress provides the block compressors used for depth and
// confidence streams.
package compress

import (
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz"
)

// ErrUnknownCodec is returned by Lookup for an unregistered codec name.
var ErrUnknownCodec = errors.New("unknown compression codec")

// Codec names.
const (
	Zlib   = "zlib"
	XZ     = "xz"
	Brotli = "brotli"
	Bzip2  = "bzip2"
)

// Codec creates streaming compressors and decompressors.
type Codec interface {
	// Name is the codec name used in configuration and stream encodings.
	Name() string
	// Extension is the file suffix appended to compressed files, without a dot.
	Extension() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Lookup returns the codec registered under name. Level is codec specific;
// zero selects the codec default.
func Lookup(name string, level int) (Codec, error) {
	switch name {
	case Zlib, "":
		if level == 0 {
			level = zlib.DefaultCompression
		}
		return zlibCodec{level: level}, nil
	case XZ:
		return xzCodec{}, nil
	case Brotli:
		if level == 0 {
			level = brotli.DefaultCompression
		}
		return brotliCodec{level: level}, nil
	case Bzip2:
		return bzip2Codec{level: level}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}

// Names lists the registered codec names.
func Names() []string {
	return []string{Zlib, XZ, Brotli, Bzip2}
}

type zlibCodec struct{ level int }

func (zlibCodec) Name() string      { return Zlib }
func (zlibCodec) Extension() string { return "zlib" }

func (c zlibCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zlib.NewWriterLevel(w, c.level)
}

func (zlibCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}

type xzCodec struct{}

func (xzCodec) Name() string      { return XZ }
func (xzCodec) Extension() string { return "xz" }

func (xzCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return xz.NewWriter(w)
}

func (xzCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(xr), nil
}

type brotliCodec struct{ level int }

func (brotliCodec) Name() string      { return Brotli }
func (brotliCodec) Extension() string { return "br" }

func (c brotliCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(w, c.level), nil
}

func (brotliCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}

type bzip2Codec struct{ level int }

func (bzip2Codec) Name() string      { return Bzip2 }
func (bzip2Codec) Extension() string { return "bz2" }

func (c bzip2Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	var conf *bzip2.WriterConfig
	if c.level > 0 {
		conf = &bzip2.WriterConfig{Level: c.level}
	}
	return bzip2.NewWriter(w, conf)
}

func (bzip2Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return bzip2.NewReader(r, nil)
}
