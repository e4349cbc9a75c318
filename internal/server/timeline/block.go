// Package timeline turns an ordered list of heterogeneous content blocks from
// one day-bounded source page into timestamped candidate records with
// non-decreasing start times.
package timeline

import "fmt"

// Kind classifies a block. Only text blocks may be clustered together; every
// media kind forms a singleton record.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindPDF   Kind = "pdf"
	KindFile  Kind = "file"
)

func (k Kind) clusters() bool { return k == KindText }

// FileRef points at a downloaded media attachment plus whatever metadata the
// source or the file itself provided.
type FileRef struct {
	LocalPath  string
	CreatedAt  *int64 // extracted creation time, ms since epoch
	DurationMS *int64
	Latitude   *float64
	Longitude  *float64
	Metadata   map[string]any
}

// Block is one content block of a source page.
type Block struct {
	ID        string
	Kind      Kind
	Text      string
	CreatedAt int64 // ms since epoch
	File      *FileRef
}

// Candidate is one logical record split out of the page.
type Candidate struct {
	// RepUUID identifies the candidate across re-runs of the same page; it
	// is derived from the first block and stays stable unless the page is
	// restructured.
	RepUUID   string
	Kind      Kind
	Text      string
	File      *FileRef
	StartTime int64
	EndTime   *int64
	Latitude  *float64
	Longitude *float64
	GroupID   string
	SeqID     int
	Blocks    []Block
}

func repUUID(first Block) string {
	return fmt.Sprintf("%s-%s", first.Kind, first.ID)
}

// RemovedIdentities returns the previously stored identities that no longer
// appear among the candidates, for downstream deletion.
func RemovedIdentities(prev []string, cands []*Candidate) []string {
	current := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		current[c.RepUUID] = struct{}{}
	}
	var removed []string
	for _, id := range prev {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	return removed
}
