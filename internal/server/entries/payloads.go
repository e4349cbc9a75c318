package entries

import (
	"path/filepath"
	"strings"
)

// Payload is the variant-specific data of an entry. Implementations are plain
// structs; the concrete variant is selected by the entry_type tag.
type Payload interface {
	Kind() EntryType
}

// TextPayload is a markdown text fragment.
type TextPayload struct {
	Text string `json:"text"`
}

func (TextPayload) Kind() EntryType { return TypeText }

// FileDetail describes a payload stored in the durable payload store.
//
// FileID is volatile: connectors fill it with a local path and the entry
// manager rewrites it to the durable payload id on insert. It is therefore
// excluded from the content hash.
type FileDetail struct {
	FileID       string         `json:"file_id"`
	FileName     string         `json:"file_name"`
	FileType     string         `json:"file_type"` // extension including the dot
	FileMetadata map[string]any `json:"file_metadata,omitempty"`

	kind EntryType
}

func (f FileDetail) Kind() EntryType {
	if f.kind == "" {
		return TypeGenericFile
	}
	return f.kind
}

// NewFileDetail builds a FileDetail for a local file, picking the typed file
// variant from the extension.
func NewFileDetail(localPath string, metadata map[string]any) FileDetail {
	ext := filepath.Ext(localPath)
	return FileDetail{
		FileID:       localPath,
		FileName:     filepath.Base(localPath),
		FileType:     ext,
		FileMetadata: metadata,
		kind:         FileTypeForExt(ext),
	}
}

var fileTypeExts = map[EntryType][]string{
	TypeTextFile:  {"txt"},
	TypeImageFile: {"jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff", "svg", "ico", "heic", "heif", "avif"},
	TypeVideoFile: {"mp4", "avi", "mkv", "mov", "webm", "flv", "wmv", "3gp", "3g2", "m4v", "mpg", "mpeg", "m2v", "ts"},
	TypeAudioFile: {"mp3", "wav", "flac", "ogg", "m4a", "wma", "aac", "aiff", "alac", "pcm", "mp2", "mka"},
	TypePDFFile:   {"pdf"},
}

// FileTypeForExt maps a file extension (with or without the leading dot) to
// the matching typed file entry type, falling back to generic_file.
func FileTypeForExt(ext string) EntryType {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for t, exts := range fileTypeExts {
		for _, e := range exts {
			if e == ext {
				return t
			}
		}
	}
	return TypeGenericFile
}

// Geolocation is a single location fix.
type Geolocation struct {
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
	Altitude         *float64 `json:"altitude,omitempty"`
	AltitudeAccuracy *float64 `json:"altitude_accuracy,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
	Speed            *float64 `json:"speed,omitempty"`
}

func (Geolocation) Kind() EntryType { return TypeGeolocation }

// Vec3D holds per-axis statistics of an accelerometer window.
type Vec3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AccelerometerData summarizes one accelerometer sampling window.
type AccelerometerData struct {
	Mean     Vec3D  `json:"mean"`
	Variance *Vec3D `json:"variance,omitempty"`
	Skewness *Vec3D `json:"skewness,omitempty"`
	Kurtosis *Vec3D `json:"kurtosis,omitempty"`
}

func (AccelerometerData) Kind() EntryType { return TypeAccelerometer }

// HeartRate is a single heart-rate sample in beats per minute.
type HeartRate struct {
	HeartRate float64 `json:"heart_rate"`
}

func (HeartRate) Kind() EntryType { return TypeHeartRate }

// SleepState is a sleep stage sample (e.g. "awake", "light", "deep", "rem").
type SleepState struct {
	State string `json:"state"`
}

func (SleepState) Kind() EntryType { return TypeSleepState }

// Activity is a logged activity from a third-party tracker. LogID is the
// upstream identifier and anchors the entry identity.
type Activity struct {
	LogID        int64   `json:"log_id"`
	ActivityName string  `json:"activity_name"`
	DurationMS   int64   `json:"duration_ms"`
	Calories     float64 `json:"calories,omitempty"`
	Steps        int64   `json:"steps,omitempty"`
	AvgHeartRate float64 `json:"avg_heart_rate,omitempty"`
}

func (Activity) Kind() EntryType { return TypeActivity }
