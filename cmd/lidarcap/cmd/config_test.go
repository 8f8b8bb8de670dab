package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/lidarcap/internal/config"
)

func TestToMap_HumanReadable(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Decode(v)
	require.NoError(t, err)

	m := toMap(cfg)
	storage, ok := m["storage"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "512 MiB", storage["min_free_space"])

	retention, ok := m["retention"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "30d", retention["max_age"])

	capture, ok := m["capture"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 30, capture["target_fps"])
}
