package entries

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryJSON_RoundTripText(t *testing.T) {
	seq := 3
	e := textEntry("a day in the park", 1000)
	e.GroupID = "note-1"
	e.SeqID = &seq

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var got Entry
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, *e, got)
	require.Equal(t, e.UUID(), got.UUID())
}

func TestEntryJSON_RoundTripFile(t *testing.T) {
	e := NewFileEntry(FileDetail{
		FileID:       "payload-1",
		FileName:     "cat.jpg",
		FileType:     ".jpg",
		FileMetadata: map[string]any{"width": float64(640)},
	}, 2000, "h1")

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var got Entry
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, TypeImageFile, got.Type)
	require.Equal(t, TypeImageFile, got.Data.Kind(), "payload kind must survive the round trip")
	require.Equal(t, e.UUID(), got.UUID())
}

func TestEntryJSON_UnknownType(t *testing.T) {
	var got Entry
	err := json.Unmarshal([]byte(`{"entry_type":"hologram","data":{}}`), &got)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	e := textEntry("ok", 1000)
	require.NoError(t, e.Validate())

	bad := textEntry("", 1000)
	bad.InputHandlerID = ""
	require.Error(t, bad.Validate())

	end := int64(500)
	rev := textEntry("x", 1000)
	rev.EndTime = &end
	require.Error(t, rev.Validate())

	seq := 0
	orphan := textEntry("x", 1000)
	orphan.SeqID = &seq
	require.Error(t, orphan.Validate())

	mismatch := textEntry("x", 1000)
	mismatch.Type = TypeHeartRate
	require.Error(t, mismatch.Validate())
}

func TestWithFileID(t *testing.T) {
	e := NewFileEntry(FileDetail{FileID: "/tmp/local.pdf", FileName: "doc.pdf", FileType: ".pdf"}, 0, "h")
	clone := e.WithFileID("durable-9")

	fd, ok := FileDetailOf(clone)
	require.True(t, ok)
	require.Equal(t, "durable-9", fd.FileID)

	orig, _ := FileDetailOf(e)
	require.Equal(t, "/tmp/local.pdf", orig.FileID, "original must be unchanged")
	require.Equal(t, e.UUID(), clone.UUID())
}
