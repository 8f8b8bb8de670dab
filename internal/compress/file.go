package compress

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
)

const copyBufferSize = 256 * 1024

// Result describes a finished file compression.
type Result struct {
	Path     string
	InBytes  int64
	OutBytes int64
}

// Ratio returns compressed size over raw size.
func (r Result) Ratio() float64 {
	if r.InBytes == 0 {
		return 0
	}
	return float64(r.OutBytes) / float64(r.InBytes)
}

// File streams src through codec into dst without loading src into memory.
// On success dst is synced to disk; on failure any partial dst is removed.
func File(ctx context.Context, codec Codec, src, dst string) (res Result, err error) {
	in, err := os.Open(src)
	if err != nil {
		return res, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return res, fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	bw := bufio.NewWriterSize(out, copyBufferSize)
	cw, err := codec.NewWriter(bw)
	if err != nil {
		return res, fmt.Errorf("creating %s writer: %w", codec.Name(), err)
	}

	n, err := io.CopyBuffer(cw, &ctxReader{ctx: ctx, r: in}, make([]byte, copyBufferSize))
	if err != nil {
		return res, fmt.Errorf("compressing %s: %w", src, err)
	}
	if err = cw.Close(); err != nil {
		return res, fmt.Errorf("closing %s writer: %w", codec.Name(), err)
	}
	if err = bw.Flush(); err != nil {
		return res, fmt.Errorf("flushing %s: %w", dst, err)
	}
	if err = out.Sync(); err != nil {
		return res, fmt.Errorf("syncing %s: %w", dst, err)
	}
	info, err := out.Stat()
	if err != nil {
		return res, fmt.Errorf("stat %s: %w", dst, err)
	}
	if err = out.Close(); err != nil {
		return res, fmt.Errorf("closing %s: %w", dst, err)
	}

	return Result{Path: dst, InBytes: n, OutBytes: info.Size()}, nil
}

// ReadAll decompresses an entire file. Intended for tools and tests.
func ReadAll(codec Codec, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := codec.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("creating %s reader: %w", codec.Name(), err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// ctxReader aborts a long copy when the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
