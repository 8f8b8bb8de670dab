package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/lidarcap/internal/database/migrations"
)

func TestPrintMigrationStatus(t *testing.T) {
	applied := time.Now().Add(-2 * time.Hour)
	states := []migrations.State{
		{Version: "001", Description: "Create recording catalog tables", AppliedAt: &applied},
		{Version: "002", Description: "Add unique recording stream index"},
	}

	var buf bytes.Buffer
	require.NoError(t, printMigrationStatus(&buf, states))

	out := buf.String()
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "2 hours ago")
	assert.Regexp(t, `002\s+Add unique recording stream index\s+pending`, out)
	assert.Contains(t, out, "1 pending")
}
