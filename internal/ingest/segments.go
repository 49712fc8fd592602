package ingest

import (
	"strings"

	"multimodal-rag/internal/transcribe"
)

// MergeShortSegments joins each segment into its predecessor while the running
// segment is shorter than minSecs. Text is concatenated, the end time extended
// and confidences averaged.
func MergeShortSegments(segments []transcribe.Segment, minSecs float64) []transcribe.Segment {
	if len(segments) == 0 {
		return nil
	}
	var (
		merged []transcribe.Segment
		cur    = segments[0]
		parts  = 1
	)
	for _, seg := range segments[1:] {
		if cur.End-cur.Start < minSecs {
			cur.Text = strings.TrimSpace(cur.Text + " " + seg.Text)
			cur.End = seg.End
			cur.Confidence = (cur.Confidence*float64(parts) + seg.Confidence) / float64(parts+1)
			parts++
			continue
		}
		merged = append(merged, cur)
		cur, parts = seg, 1
	}
	return append(merged, cur)
}
