package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		line  string
		full  string
		major int
		minor int
	}{
		{"ffmpeg version 6.0 Copyright (c) 2000-2023", "6.0", 6, 0},
		{"ffmpeg version n7.1-2-gabc Copyright", "n7.1-2-gabc", 7, 1},
		{"ffmpeg version 5.1.4-0+deb12u1 Copyright", "5.1.4-0+deb12u1", 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.full, func(t *testing.T) {
			info, err := parseVersion([]byte(tt.line + "\nbuilt with gcc\n"))
			require.NoError(t, err)
			assert.Equal(t, tt.full, info.Version)
			assert.Equal(t, tt.major, info.MajorVersion)
			assert.Equal(t, tt.minor, info.MinorVersion)
		})
	}

	_, err := parseVersion([]byte("not ffmpeg"))
	assert.Error(t, err)
}

func TestParseEncoders(t *testing.T) {
	out := []byte(`Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D mjpeg                MJPEG (Motion JPEG)
 A....D aac                  AAC (Advanced Audio Coding)
`)
	info := &BinaryInfo{Encoders: parseEncoders(out)}
	assert.Equal(t, []string{"libx264", "mjpeg", "aac"}, info.Encoders)
	assert.True(t, info.HasEncoder("libx264"))
	assert.False(t, info.HasEncoder("h264_nvenc"))
}

func TestCommandBuilder_RawVideoPipe(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		RawVideoInput("rgba", 640, 480, 30).
		Input("pipe:0").
		VideoCodec("libx264").
		VideoPreset("ultrafast").
		VideoBitrate("").
		OutputArgs("-f", "h264").
		Output("pipe:1").
		Build()

	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner", "-nostdin",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-s", "640x480", "-r", "30",
		"-i", "pipe:0",
		"-c:v", "libx264", "-preset", "ultrafast",
		"-f", "h264", "pipe:1",
	}, cmd.Args)
	assert.Contains(t, cmd.String(), "/usr/bin/ffmpeg -loglevel error")
}

func TestCommandBuilder_FractionalRate(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").RawVideoInput("rgba", 2, 2, 29.97).Input("pipe:0").Output("pipe:1").Build()
	assert.Contains(t, cmd.Args, "29.97")
}

func TestCommand_WaitBeforeStart(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").Build()
	assert.Error(t, cmd.Wait())
	assert.NoError(t, cmd.Kill())
	assert.Zero(t, cmd.Duration())
}
