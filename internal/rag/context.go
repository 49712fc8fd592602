package rag

import (
	"fmt"
	"strings"

	"multimodal-rag/internal/models"
)

// BuildCitedContext numbers every hit from 1 in text, image, audio order and
// renders the prompt context together with the matching citations.
func BuildCitedContext(ev models.Evidence) (string, []models.Citation) {
	var (
		parts     []string
		citations []models.Citation
		n         int
	)

	cite := func(h models.Hit) int {
		n++
		c := models.Citation{
			Number:     n,
			Modality:   h.Modality,
			Source:     h.Filename,
			SourceID:   h.ID,
			DocumentID: h.DocumentID,
			Page:       h.PageNumber,
			StartTime:  h.StartTime,
			EndTime:    h.EndTime,
			URL:        h.URL,
		}
		if c.Source == "" {
			c.Source = models.UnknownSource
		}
		citations = append(citations, c)
		return n
	}

	if len(ev.Text) > 0 {
		parts = append(parts, models.TextSectionHeader)
		for _, h := range ev.Text {
			entry := fmt.Sprintf("\n[%d] %s", cite(h), h.Content)
			if meta := metadataLines(h); meta != "" {
				entry += "\n" + meta
			}
			parts = append(parts, entry)
		}
	}

	if len(ev.Image) > 0 {
		parts = append(parts, "\n\n"+models.ImageSectionHeader)
		for _, h := range ev.Image {
			entry := fmt.Sprintf("\n[%d] Image: %s", cite(h), h.Filename)
			if h.Caption != "" {
				entry += " - " + h.Caption
			}
			parts = append(parts, entry)
		}
	}

	if len(ev.Audio) > 0 {
		parts = append(parts, "\n\n"+models.AudioSectionHeader)
		for _, h := range ev.Audio {
			var start, end float64
			if h.StartTime != nil {
				start = *h.StartTime
			}
			if h.EndTime != nil {
				end = *h.EndTime
			}
			parts = append(parts, fmt.Sprintf("\n[%d] [%.1fs - %.1fs] %s", cite(h), start, end, h.Content))
		}
	}

	return strings.Join(parts, "\n"), citations
}

// metadataLines renders contact details extracted at ingestion time.
func metadataLines(h models.Hit) string {
	emails := stringList(h.Metadata["emails"])
	phones := stringList(h.Metadata["phones"])
	if len(emails) == 0 && len(phones) == 0 {
		return ""
	}

	lines := []string{fmt.Sprintf("[Extracted Metadata from %s]", h.Filename)}
	if len(emails) > 0 {
		lines = append(lines, "Emails: "+strings.Join(emails, ", "))
	}
	if len(phones) > 0 {
		lines = append(lines, "Phone Numbers: "+strings.Join(phones, ", "))
	}
	return strings.Join(lines, "\n")
}

// stringList accepts both []string and the []any produced by a json round trip.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
