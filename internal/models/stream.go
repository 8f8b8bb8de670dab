package models

// Stream identifiers written to recording manifests.
const (
	StreamFullVideo  = "full_rgb_video"
	StreamGoodVideo  = "rgb_video"
	StreamDepth      = "lidar_depth_map"
	StreamConfidence = "confidence_map"
	StreamCameraInfo = "camera_info"
)

// Stream encodings. Plane streams carry their compression codec, see
// DepthEncoding and ConfidenceEncoding.
const (
	EncodingH264  = "h264"
	EncodingJSONL = "jsonl"
)

// DepthEncoding names a half-float depth stream compressed with codec.
func DepthEncoding(codec string) string { return "float16_" + codec }

// ConfidenceEncoding names a byte-per-pixel confidence stream compressed
// with codec.
func ConfidenceEncoding(codec string) string { return "uint8_" + codec }

// File name suffixes, appended to the recording id.
const (
	SuffixFullVideo = "_regular.mp4"
	SuffixGoodVideo = "_goodWindow.mp4"
	SuffixAuxVideo  = "_ar.mp4"
	SuffixThumbnail = "_thumbnail.jpg"
	ExtManifest     = "json"
	ExtDepth        = "depth"
	ExtConfidence   = "confidence"
	ExtPoseLog      = "jsonl"
)

// StreamDescriptor describes one output stream of a recording.
type StreamDescriptor struct {
	ID             string    `json:"id"`
	Encoding       string    `json:"encoding"`
	Frequency      int       `json:"frequency"`
	NumberOfFrames int       `json:"number_of_frames"`
	FileExtension  string    `json:"file_extension"`
	FileName       string    `json:"file_name,omitempty"`
	Resolution     []int     `json:"resolution,omitempty"` // [height, width]
	Intrinsics     []float32 `json:"intrinsics,omitempty"`
}

// DeviceInfo identifies the capturing device.
type DeviceInfo struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Manifest is the per-recording metadata document.
type Manifest struct {
	Device  DeviceInfo         `json:"device"`
	Streams []StreamDescriptor `json:"streams"`
}

// Stream returns the descriptor with the given id, or nil.
func (m *Manifest) Stream(id string) *StreamDescriptor {
	for i := range m.Streams {
		if m.Streams[i].ID == id {
			return &m.Streams[i]
		}
	}
	return nil
}
