// Package manifest writes the per-recording metadata document and resolves
// the identity of the capturing device.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/storage"
)

// DeviceIDFile holds the generated device id below the base directory.
const DeviceIDFile = "device_id"

// FileName returns the manifest file name for a recording.
func FileName(recordingID string) string {
	return recordingID + "." + models.ExtManifest
}

// Write renders the manifest as indented JSON to <dir>/<id>.json and
// returns its path.
func Write(dir, recordingID string, device models.DeviceInfo, streams []models.StreamDescriptor) (string, error) {
	if streams == nil {
		streams = []models.StreamDescriptor{}
	}
	data, err := json.MarshalIndent(models.Manifest{Device: device, Streams: streams}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}

	sb, err := storage.NewSandbox(dir)
	if err != nil {
		return "", err
	}
	name := FileName(recordingID)
	if err := sb.AtomicWrite(name, append(data, '\n')); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return filepath.Join(sb.BaseDir(), name), nil
}

// Read loads a manifest from path.
func Read(path string) (*models.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	return &m, nil
}

// ResolveDevice fills in the device identity. Configured values win; an
// empty id is replaced by a UUID persisted in the base directory, and
// empty type and name come from the host.
func ResolveDevice(ctx context.Context, cfg config.DeviceConfig, base *storage.Sandbox) (models.DeviceInfo, error) {
	dev := models.DeviceInfo{ID: cfg.ID, Type: cfg.Type, Name: cfg.Name}

	if dev.ID == "" {
		id, err := persistentID(base)
		if err != nil {
			return dev, err
		}
		dev.ID = id
	}

	if dev.Type == "" || dev.Name == "" {
		info, err := host.InfoWithContext(ctx)
		if err != nil {
			return dev, fmt.Errorf("reading host info: %w", err)
		}
		if dev.Type == "" {
			dev.Type = info.Platform
			if dev.Type == "" {
				dev.Type = info.OS
			}
		}
		if dev.Name == "" {
			dev.Name = info.Hostname
		}
	}
	return dev, nil
}

func persistentID(base *storage.Sandbox) (string, error) {
	path, err := base.ResolvePath(DeviceIDFile)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id, perr := uuid.Parse(strings.TrimSpace(string(data))); perr == nil {
			return id.String(), nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("reading device id: %w", err)
	}

	id := uuid.New().String()
	if err := base.AtomicWrite(DeviceIDFile, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("persisting device id: %w", err)
	}
	return id, nil
}
