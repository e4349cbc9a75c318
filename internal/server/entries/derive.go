package entries

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/lifelog/internal/hashx"
)

// derivation bundles the per-variant identity functions and the payload
// decoder for one entry type. Variants are registered in a lookup table
// instead of dispatched virtually so the set of types stays closed.
type derivation struct {
	uuid   func(e *Entry) EntryUUID
	hash   func(e *Entry) EntryHash
	decode func(raw json.RawMessage) (Payload, error)
}

func payloadJSONHash(e *Entry) EntryHash {
	b, err := json.Marshal(e.Data)
	if err != nil {
		// Payload variants are plain data structs; marshalling only fails
		// on programmer error.
		panic(fmt.Sprintf("marshal %s payload: %v", e.Type, err))
	}
	return hashx.Bytes(b)
}

// fileHash fingerprints a file payload by name, type and metadata. The
// volatile FileID (local path before upload, re-signed durable id after) is
// deliberately excluded so re-ingesting the same file is a no-op.
func fileHash(e *Entry) EntryHash {
	fd, ok := e.Data.(FileDetail)
	if !ok {
		return payloadJSONHash(e)
	}
	meta, _ := json.Marshal(fd.FileMetadata)
	return hashx.Text(fd.FileName + fd.FileType + string(meta))
}

func timeHashUUID(prefix string) func(e *Entry) EntryUUID {
	return func(e *Entry) EntryUUID {
		return fmt.Sprintf("%s-%d-%s", prefix, e.StartTime, e.Hash())
	}
}

func decodeFileDetail(kind EntryType) func(raw json.RawMessage) (Payload, error) {
	return func(raw json.RawMessage) (Payload, error) {
		var fd FileDetail
		if err := json.Unmarshal(raw, &fd); err != nil {
			return nil, err
		}
		fd.kind = kind
		return fd, nil
	}
}

func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var derivations map[EntryType]derivation

// Assigned in init rather than at declaration: the file variants derive
// their UUID from Entry.Hash, which reads derivations, so a declaration
// initializer would be an initialization cycle.
func init() {
	derivations = map[EntryType]derivation{
		TypeText: {
			// Text has no natural identifier, so identity also covers the
			// producing handler and the timestamp: editing the text makes a
			// new record.
			uuid: func(e *Entry) EntryUUID {
				return fmt.Sprintf("text-%s-%d-%s", e.InputHandlerID, e.StartTime, e.Hash())
			},
			hash: func(e *Entry) EntryHash {
				tp, _ := e.Data.(TextPayload)
				return hashx.Text(tp.Text)
			},
			decode: decodeInto[TextPayload],
		},
		TypeGenericFile: {uuid: timeHashUUID("file"), hash: fileHash, decode: decodeFileDetail(TypeGenericFile)},
		TypeTextFile:    {uuid: timeHashUUID("file"), hash: fileHash, decode: decodeFileDetail(TypeTextFile)},
		TypeImageFile:   {uuid: timeHashUUID("file"), hash: fileHash, decode: decodeFileDetail(TypeImageFile)},
		TypeVideoFile:   {uuid: timeHashUUID("file"), hash: fileHash, decode: decodeFileDetail(TypeVideoFile)},
		TypeAudioFile:   {uuid: timeHashUUID("file"), hash: fileHash, decode: decodeFileDetail(TypeAudioFile)},
		TypePDFFile:     {uuid: timeHashUUID("file"), hash: fileHash, decode: decodeFileDetail(TypePDFFile)},
		TypeGeolocation: {
			uuid:   timeHashUUID("location"),
			hash:   payloadJSONHash,
			decode: decodeInto[Geolocation],
		},
		TypeAccelerometer: {
			uuid:   timeHashUUID("accelerometer"),
			hash:   payloadJSONHash,
			decode: decodeInto[AccelerometerData],
		},
		TypeHeartRate: {
			uuid:   timeHashUUID("heart_rate"),
			hash:   payloadJSONHash,
			decode: decodeInto[HeartRate],
		},
		TypeSleepState: {
			uuid:   timeHashUUID("sleep_state"),
			hash:   payloadJSONHash,
			decode: decodeInto[SleepState],
		},
		TypeActivity: {
			// The upstream log id is stable across syncs even when stats
			// change, so it anchors identity instead of the content hash.
			uuid: func(e *Entry) EntryUUID {
				a, _ := e.Data.(Activity)
				return fmt.Sprintf("activity-%d-%d", e.StartTime, a.LogID)
			},
			hash:   payloadJSONHash,
			decode: decodeInto[Activity],
		},
	}
}

func decodePayload(t EntryType, raw json.RawMessage) (Payload, error) {
	d, ok := derivations[t]
	if !ok {
		return nil, fmt.Errorf("unknown entry type: %q", t)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("entry %q has no payload", t)
	}
	return d.decode(raw)
}

// UUID derives the idempotency key of the entry. An out-of-band override
// wins over the registered derivation.
func (e *Entry) UUID() EntryUUID {
	if e.UUIDOverride != "" {
		return e.UUIDOverride
	}
	return derivations[e.Type].uuid(e)
}

// Hash derives the stable content fingerprint of the entry payload. An
// out-of-band override wins over the registered derivation.
func (e *Entry) Hash() EntryHash {
	if e.HashOverride != "" {
		return e.HashOverride
	}
	return derivations[e.Type].hash(e)
}
