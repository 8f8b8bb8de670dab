package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID_SortsByCreation(t *testing.T) {
	a := NewULID()
	time.Sleep(2 * time.Millisecond)
	b := NewULID()

	assert.NotEqual(t, a, b)
	assert.Less(t, a.String(), b.String())
	assert.WithinDuration(t, time.Now(), b.Time(), time.Second)
}

func TestParseULID(t *testing.T) {
	id := NewULID()
	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{"", "not-a-ulid", id.String() + "X"} {
		_, err := ParseULID(bad)
		assert.Error(t, err, bad)
	}
}

func TestULID_JSONRoundTripInRecording(t *testing.T) {
	rec := Recording{Model: Model{ID: NewULID()}, Directory: "d", Status: RecordingStatusCompleted}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":"`+rec.ID.String()+`"`)
	assert.NotContains(t, string(data), "deleted_at")

	var back Recording
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.ID, back.ID)
}

func TestULID_ZeroTravelsAsEmpty(t *testing.T) {
	var zero ULID
	data, err := json.Marshal(zero)
	require.NoError(t, err)
	assert.Equal(t, `""`, string(data))

	v, err := zero.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var u ULID
	require.NoError(t, json.Unmarshal([]byte(`""`), &u))
	assert.True(t, u.IsZero())
}

func TestULID_Scan(t *testing.T) {
	id := NewULID()

	tests := []struct {
		name    string
		src     any
		want    ULID
		wantErr bool
	}{
		{"null", nil, ULID{}, false},
		{"text", id.String(), id, false},
		{"bytes", []byte(id.String()), id, false},
		{"empty text", "", ULID{}, false},
		{"garbage", "bad", ULID{}, true},
		{"integer column", int64(7), ULID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u ULID
			err := u.Scan(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u)
		})
	}
}

func TestModel_BeforeCreateKeepsChosenID(t *testing.T) {
	chosen := NewULID()
	s := &RecordingStream{Model: Model{ID: chosen}}
	require.NoError(t, s.BeforeCreate(nil))
	assert.Equal(t, chosen, s.ID)

	fresh := &RecordingStream{}
	require.NoError(t, fresh.BeforeCreate(nil))
	assert.False(t, fresh.ID.IsZero())
}
