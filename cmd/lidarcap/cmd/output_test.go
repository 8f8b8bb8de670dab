package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	assert.Equal(t, "0", count(0))
	assert.Equal(t, "1,234,567", count(1234567))
	assert.Equal(t, "-9,000", count(-9000))
}

func TestAgo(t *testing.T) {
	assert.Equal(t, "-", ago(time.Time{}))
	assert.Equal(t, "3 days ago", ago(time.Now().Add(-72*time.Hour-time.Minute)))
}
