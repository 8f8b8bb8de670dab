// Package ffmpeg provides FFmpeg binary detection and a small command
// builder for piped encoder processes.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/lidarcap/internal/util"
)

// BinaryEnvVar overrides the ffmpeg lookup.
const BinaryEnvVar = "LIDARCAP_FFMPEG_BINARY"

// BinaryInfo describes the detected FFmpeg installation.
type BinaryInfo struct {
	Path         string   `json:"path"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
}

// HasEncoder reports whether the named encoder is compiled in.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// BinaryDetector detects and caches FFmpeg capabilities.
type BinaryDetector struct {
	mu           sync.RWMutex
	path         string
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. An empty path falls back to
// util.FindBinary's search order.
func NewBinaryDetector(path string) *BinaryDetector {
	return &BinaryDetector{
		path:     path,
		cacheTTL: 5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect returns the cached detection result, refreshing it when stale.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached result.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	path, err := util.FindBinary("ffmpeg", d.path, BinaryEnvVar)
	if err != nil {
		return nil, err
	}

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("running %s -version: %w", path, err)
	}
	info, err := parseVersion(out)
	if err != nil {
		return nil, err
	}
	info.Path = path

	if out, err := exec.CommandContext(ctx, path, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseEncoders(out)
	}
	return info, nil
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

func parseVersion(out []byte) (*BinaryInfo, error) {
	info := &BinaryInfo{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n6.0-2-g..."
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		info.Version = parts[2]
		if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
			info.MajorVersion, _ = strconv.Atoi(m[1])
			info.MinorVersion, _ = strconv.Atoi(m[2])
		}
		break
	}
	if info.Version == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseEncoders reads the "-encoders" table, whose rows look like
// " V....D libx264   libx264 H.264 / AVC ...".
func parseEncoders(out []byte) []string {
	var encoders []string
	inList := false
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			encoders = append(encoders, fields[1])
		}
	}
	return encoders
}
