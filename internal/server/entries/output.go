package entries

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/lifelog/internal/common"
)

// URLResolver converts a durable payload id into a client-usable retrieval
// URL. Implemented by the payload store.
type URLResolver interface {
	ResolveURL(ctx context.Context, payloadID string) (string, error)
}

// OutputEntry is the projection of an entry returned to clients. Internal
// override fields are stripped and file payloads are resolved to URLs.
type OutputEntry struct {
	EntryUUID      EntryUUID `json:"entry_uuid"`
	EntryHash      EntryHash `json:"entry_hash"`
	Type           EntryType `json:"entry_type"`
	Data           any       `json:"data"`
	StartTime      int64     `json:"start_time"`
	EndTime        *int64    `json:"end_time,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	GroupID        string    `json:"group_id,omitempty"`
	SeqID          *int      `json:"seq_id,omitempty"`
	InputHandlerID string    `json:"input_handler_id"`
	Tags           []string  `json:"tags,omitempty"`
}

// OutputFile is the projected payload of file-backed entries.
type OutputFile struct {
	FileURL      string         `json:"file_url"`
	FileName     string         `json:"file_name"`
	FileType     string         `json:"file_type"`
	FileMetadata map[string]any `json:"file_metadata,omitempty"`
}

// Project converts an entry into its output form. File payloads are resolved
// through the given resolver; an unresolvable payload fails with an error
// wrapping common.ErrDataUnavailable rather than being silently dropped.
func Project(ctx context.Context, e *Entry, resolver URLResolver) (*OutputEntry, error) {
	data := any(e.Data)

	if fd, ok := FileDetailOf(e); ok {
		url, err := resolver.ResolveURL(ctx, fd.FileID)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving payload %s: %v", common.ErrDataUnavailable, fd.FileID, err)
		}
		data = OutputFile{
			FileURL:      url,
			FileName:     fd.FileName,
			FileType:     fd.FileType,
			FileMetadata: fd.FileMetadata,
		}
	}

	return &OutputEntry{
		EntryUUID:      e.UUID(),
		EntryHash:      e.Hash(),
		Type:           e.Type,
		Data:           data,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		Latitude:       e.Latitude,
		Longitude:      e.Longitude,
		GroupID:        e.GroupID,
		SeqID:          e.SeqID,
		InputHandlerID: e.InputHandlerID,
		Tags:           e.Tags,
	}, nil
}
