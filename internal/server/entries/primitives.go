// Package entries defines the normalized record model: the Entry type, its
// payload variants, identity derivation and output projection.
package entries

// EntryUUID is the idempotency key for a logical record. Two writes with the
// same EntryUUID address the same record.
type EntryUUID = string

// EntryHash is a stable content fingerprint of an entry payload.
type EntryHash = string

// EntryType is the closed tag selecting the payload variant of an entry.
type EntryType string

const (
	TypeText          EntryType = "text"
	TypeGenericFile   EntryType = "generic_file"
	TypeTextFile      EntryType = "text_file"
	TypeImageFile     EntryType = "image_file"
	TypeVideoFile     EntryType = "video_file"
	TypeAudioFile     EntryType = "audio_file"
	TypePDFFile       EntryType = "pdf_file"
	TypeGeolocation   EntryType = "geolocation"
	TypeAccelerometer EntryType = "accelerometer"
	TypeHeartRate     EntryType = "heart_rate"
	TypeSleepState    EntryType = "sleep_state"
	TypeActivity      EntryType = "activity"
)

// AllTypes lists every registered entry type.
func AllTypes() []EntryType {
	return []EntryType{
		TypeText, TypeGenericFile, TypeTextFile, TypeImageFile, TypeVideoFile,
		TypeAudioFile, TypePDFFile, TypeGeolocation, TypeAccelerometer,
		TypeHeartRate, TypeSleepState, TypeActivity,
	}
}

// IsFileType reports whether t carries a FileDetail payload backed by the
// durable payload store.
func (t EntryType) IsFileType() bool {
	switch t {
	case TypeGenericFile, TypeTextFile, TypeImageFile, TypeVideoFile, TypeAudioFile, TypePDFFile:
		return true
	}
	return false
}
