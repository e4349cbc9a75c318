package timeline

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/lifelog/internal/logging"
)

// Normalizer runs the two-stage split-and-repair over one page's blocks.
type Normalizer struct {
	log logging.Logger
}

func NewNormalizer(log logging.Logger) *Normalizer {
	return &Normalizer{log: log.With("component", "timeline")}
}

// Normalize splits the blocks into candidates and repairs their timestamps
// into a non-decreasing sequence.
func (n *Normalizer) Normalize(ctx context.Context, blocks []Block, dayStart, dayEnd int64, groupID string) []*Candidate {
	cands := n.SplitIntoCandidates(ctx, blocks, dayStart, dayEnd, groupID)
	n.ResolveMonotonicity(cands, dayStart, dayEnd)
	return cands
}

// SplitIntoCandidates walks the blocks in order, clustering contiguous text
// blocks and splitting on blank lines, bare clock times and type changes.
//
// A blank text block flushes the current cluster. A bare clock time flushes
// and pins the next candidate's start to day start plus the parsed offset;
// the clock block itself is discarded. A type change flushes and seeds the
// next candidate's time from the flushed record, so text directly following a
// photo inherits the photo's timestamp.
func (n *Normalizer) SplitIntoCandidates(ctx context.Context, blocks []Block, dayStart, dayEnd int64, groupID string) []*Candidate {
	var (
		cands        []*Candidate
		cluster      []Block
		timeOverride *int64
	)

	flush := func() *Candidate {
		if len(cluster) == 0 {
			return nil
		}
		c := n.buildCandidate(ctx, cluster, timeOverride, dayStart, dayEnd, groupID, len(cands))
		cands = append(cands, c)
		cluster = nil
		timeOverride = nil
		return c
	}

	for _, b := range blocks {
		if b.Kind == KindText {
			if strings.TrimSpace(b.Text) == "" {
				flush()
				continue
			}
			if offset, ok := parseClockOffset(b.Text); ok {
				flush()
				t := dayStart + offset
				if t > dayEnd {
					t = dayEnd
				}
				timeOverride = &t
				continue
			}
		}

		if len(cluster) > 0 && (b.Kind != cluster[0].Kind || !cluster[0].Kind.clusters()) {
			flushed := flush()
			// Seed the next candidate from the record just flushed so it
			// inherits the timestamp when there is no gap between them.
			timeOverride = &flushed.StartTime
		}
		cluster = append(cluster, b)
	}
	flush()

	return cands
}

func (n *Normalizer) buildCandidate(ctx context.Context, cluster []Block, timeOverride *int64, dayStart, dayEnd int64, groupID string, seqID int) *Candidate {
	first := cluster[0]

	c := &Candidate{
		RepUUID:   repUUID(first),
		Kind:      first.Kind,
		StartTime: first.CreatedAt,
		GroupID:   groupID,
		SeqID:     seqID,
		Blocks:    cluster,
	}
	if timeOverride != nil {
		c.StartTime = *timeOverride
	}

	if first.Kind == KindText {
		parts := make([]string, len(cluster))
		for i, b := range cluster {
			parts[i] = b.Text
		}
		c.Text = strings.Join(parts, "\n\n")
		return c
	}

	c.File = first.File
	if f := first.File; f != nil {
		if f.CreatedAt != nil {
			if *f.CreatedAt >= dayStart && *f.CreatedAt <= dayEnd {
				c.StartTime = *f.CreatedAt
			} else {
				n.log.Warn(ctx, "ignoring out-of-bounds media timestamp",
					"block_id", first.ID, "timestamp", *f.CreatedAt)
			}
		}
		if f.DurationMS != nil {
			end := c.StartTime + *f.DurationMS
			c.EndTime = &end
		}
		c.Latitude = f.Latitude
		c.Longitude = f.Longitude
	}
	return c
}

// ResolveMonotonicity repairs the candidates' start times in place so the
// sequence is non-decreasing. Out-of-bounds times are clamped to the last
// accepted time (day start if none yet); a local dip is absorbed by forcing
// the candidates above it down to the nearest earlier time not exceeding it.
// No candidate is ever discarded; some original timestamps are lost instead.
func (n *Normalizer) ResolveMonotonicity(cands []*Candidate, dayStart, dayEnd int64) {
	cur := dayStart
	for i, c := range cands {
		switch {
		case c.StartTime < dayStart || c.StartTime > dayEnd:
			c.StartTime = cur
		case c.StartTime < cur:
			j := i - 1
			for j >= 0 && cands[j].StartTime > c.StartTime {
				j--
			}
			floor := c.StartTime
			if j >= 0 {
				floor = cands[j].StartTime
			}
			for k := j + 1; k < i; k++ {
				cands[k].StartTime = floor
			}
			cur = c.StartTime
		default:
			cur = c.StartTime
		}
		if c.EndTime != nil && *c.EndTime < c.StartTime {
			*c.EndTime = c.StartTime
		}
	}
}
