package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"bytes", "1024", 1024, false},
		{"kibibytes", "5KiB", 5 * 1024, false},
		{"mebibytes", "10MiB", 10 * 1024 * 1024, false},
		{"gibibytes", "2GiB", 2 * 1024 * 1024 * 1024, false},
		{"si megabytes", "5MB", 5 * 1000 * 1000, false},
		{"with space", "5 MiB", 5 * 1024 * 1024, false},
		{"lowercase", "5mib", 5 * 1024 * 1024, false},
		{"float", "1.5MiB", ByteSize(1.5 * 1024 * 1024), false},
		{"zero", "0", 0, false},
		{"invalid", "invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

func TestByteSize_UnmarshalText(t *testing.T) {
	var b ByteSize
	err := b.UnmarshalText([]byte("512MiB"))
	require.NoError(t, err)
	assert.Equal(t, ByteSize(512*1024*1024), b)
}

func TestByteSize_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected ByteSize
	}{
		{"string format", `"5MiB"`, 5 * 1024 * 1024},
		{"bytes int", `5242880`, 5242880},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b ByteSize
			require.NoError(t, json.Unmarshal([]byte(tt.json), &b))
			assert.Equal(t, tt.expected, b)
		})
	}
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "512 MiB", ByteSize(512*1024*1024).String())
	assert.Equal(t, "0 B", ByteSize(-1).String())
}
