package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmylchreest/lidarcap/internal/models"
)

// PoseLog writes one JSON object per pose to <id>.jsonl.
type PoseLog struct {
	lifecycle

	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

// NewPoseLog creates a pose recorder.
func NewPoseLog(opts Options) *PoseLog {
	p := &PoseLog{}
	p.setup(models.StreamCameraInfo, opts)
	return p
}

func (p *PoseLog) Prepare(dir, recordingID string) error {
	return p.prepare(recordingID, func() (string, error) {
		path := filepath.Join(dir, recordingID+"."+models.ExtPoseLog)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", path, err)
		}
		p.file = f
		p.w = bufio.NewWriter(f)
		p.enc = json.NewEncoder(p.w)
		return path, nil
	})
}

// Update queues one pose.
func (p *PoseLog) Update(pose models.PoseInfo) {
	p.post(func() {
		if err := p.enc.Encode(pose.Record()); err != nil {
			p.sampleFailed(err)
			return
		}
		p.written.Add(1)
	})
}

func (p *PoseLog) Finish(ctx context.Context) error {
	return p.finish(ctx, func(context.Context) error {
		if err := p.w.Flush(); err != nil {
			p.file.Close()
			return fmt.Errorf("flushing pose log: %w", err)
		}
		if err := p.file.Sync(); err != nil {
			p.file.Close()
			return fmt.Errorf("syncing pose log: %w", err)
		}
		return p.file.Close()
	})
}
