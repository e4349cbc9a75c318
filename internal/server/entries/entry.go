package entries

import (
	"encoding/json"
	"fmt"
)

// Entry is the normalized unit of ingested data.
//
// Identity (UUID) is a pure function of the entry type, its immutable
// identifying fields and the content hash — never of mutable fields such as
// tags. Connectors may assign identity out of band through the override
// fields when the natural identity depends on an external revision marker.
type Entry struct {
	Type           EntryType `json:"entry_type"`
	Data           Payload   `json:"data"`
	StartTime      int64     `json:"start_time"` // ms since epoch
	EndTime        *int64    `json:"end_time,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	GroupID        string    `json:"group_id,omitempty"`
	SeqID          *int      `json:"seq_id,omitempty"`
	InputHandlerID string    `json:"input_handler_id"`
	Tags           []string  `json:"tags,omitempty"`
	MutationCount  int       `json:"mutation_count"`

	UUIDOverride EntryUUID `json:"uuid_override,omitempty"`
	HashOverride EntryHash `json:"hash_override,omitempty"`
}

// entryJSON mirrors Entry with a raw data field so the payload variant can be
// decoded after the entry_type tag is known.
type entryJSON struct {
	Type           EntryType       `json:"entry_type"`
	Data           json.RawMessage `json:"data"`
	StartTime      int64           `json:"start_time"`
	EndTime        *int64          `json:"end_time,omitempty"`
	Latitude       *float64        `json:"latitude,omitempty"`
	Longitude      *float64        `json:"longitude,omitempty"`
	GroupID        string          `json:"group_id,omitempty"`
	SeqID          *int            `json:"seq_id,omitempty"`
	InputHandlerID string          `json:"input_handler_id"`
	Tags           []string        `json:"tags,omitempty"`
	MutationCount  int             `json:"mutation_count"`
	UUIDOverride   EntryUUID       `json:"uuid_override,omitempty"`
	HashOverride   EntryHash       `json:"hash_override,omitempty"`
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, err := decodePayload(raw.Type, raw.Data)
	if err != nil {
		return err
	}

	*e = Entry{
		Type:           raw.Type,
		Data:           payload,
		StartTime:      raw.StartTime,
		EndTime:        raw.EndTime,
		Latitude:       raw.Latitude,
		Longitude:      raw.Longitude,
		GroupID:        raw.GroupID,
		SeqID:          raw.SeqID,
		InputHandlerID: raw.InputHandlerID,
		Tags:           raw.Tags,
		MutationCount:  raw.MutationCount,
		UUIDOverride:   raw.UUIDOverride,
		HashOverride:   raw.HashOverride,
	}
	return nil
}

// Validate checks structural invariants common to all entry types.
func (e *Entry) Validate() error {
	if _, ok := derivations[e.Type]; !ok {
		return fmt.Errorf("unknown entry type: %q", e.Type)
	}
	if e.Data == nil {
		return fmt.Errorf("entry %q has no payload", e.Type)
	}
	if e.Data.Kind() != e.Type {
		return fmt.Errorf("payload kind %q does not match entry type %q", e.Data.Kind(), e.Type)
	}
	if e.InputHandlerID == "" {
		return fmt.Errorf("entry has no input handler id")
	}
	if e.EndTime != nil && *e.EndTime < e.StartTime {
		return fmt.Errorf("end time %d before start time %d", *e.EndTime, e.StartTime)
	}
	if e.SeqID != nil && e.GroupID == "" {
		return fmt.Errorf("seq id set without group id")
	}
	return nil
}

// FileDetailOf returns the FileDetail payload when the entry carries one.
func FileDetailOf(e *Entry) (*FileDetail, bool) {
	if !e.Type.IsFileType() {
		return nil, false
	}
	fd, ok := e.Data.(FileDetail)
	if !ok {
		return nil, false
	}
	return &fd, true
}

// WithFileID returns a copy of the entry whose FileDetail payload points at
// the given payload id. Identity is unaffected because FileID is excluded
// from hashing.
func (e *Entry) WithFileID(fileID string) *Entry {
	clone := *e
	if fd, ok := e.Data.(FileDetail); ok {
		fd.FileID = fileID
		clone.Data = fd
	}
	return &clone
}

// NewFileEntry constructs a file-backed entry, deriving the concrete typed
// file variant from the detail's extension.
func NewFileEntry(detail FileDetail, startTime int64, handlerID string) *Entry {
	detail.kind = FileTypeForExt(detail.FileType)
	return &Entry{
		Type:           detail.kind,
		Data:           detail,
		StartTime:      startTime,
		InputHandlerID: handlerID,
	}
}
