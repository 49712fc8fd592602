package models

// Hit is one resolved search result with the display fields needed to cite it.
type Hit struct {
	Modality   Modality `json:"type"`
	ID         int64    `json:"id"`
	DocumentID int64    `json:"document_id"`
	Score      float32  `json:"score"`
	Filename   string   `json:"filename"`
	Content    string   `json:"content,omitempty"`
	URL        string   `json:"url,omitempty"`

	// text
	PageNumber *int           `json:"page_number,omitempty"`
	ChunkIndex int            `json:"chunk_index,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// image
	Caption string `json:"caption,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`

	// audio
	StartTime  *float64 `json:"start_time,omitempty"`
	EndTime    *float64 `json:"end_time,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Evidence groups hits per modality.
type Evidence struct {
	Text  []Hit
	Image []Hit
	Audio []Hit
}

func (e Evidence) Len() int {
	return len(e.Text) + len(e.Image) + len(e.Audio)
}

// Flatten returns the hits in citation order: text, image, audio.
func (e Evidence) Flatten() []Hit {
	out := make([]Hit, 0, e.Len())
	out = append(out, e.Text...)
	out = append(out, e.Image...)
	return append(out, e.Audio...)
}

type Citation struct {
	Number     int      `json:"id"`
	Modality   Modality `json:"type"`
	Source     string   `json:"source"`
	SourceID   int64    `json:"source_id"`
	DocumentID int64    `json:"document_id"`
	Page       *int     `json:"page,omitempty"`
	StartTime  *float64 `json:"start_time,omitempty"`
	EndTime    *float64 `json:"end_time,omitempty"`
	URL        string   `json:"url,omitempty"`
}

type ContextUsed struct {
	TextChunks    int `json:"text_chunks"`
	Images        int `json:"images"`
	AudioSegments int `json:"audio_segments"`
}

type Answer struct {
	Query       string      `json:"query"`
	Text        string      `json:"answer"`
	Citations   []Citation  `json:"citations"`
	ContextUsed ContextUsed `json:"context_used"`
	Abstained   bool        `json:"abstained,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type ChunkLink struct {
	ChunkID    int64  `json:"chunk_id"`
	DocumentID int64  `json:"document_id"`
	Content    string `json:"content"`
	PageNumber *int   `json:"page_number,omitempty"`
}

type ImageLink struct {
	ImageID    int64  `json:"image_id"`
	DocumentID int64  `json:"document_id"`
	Path       string `json:"path"`
	Caption    string `json:"caption,omitempty"`
}

type AudioLink struct {
	SegmentID  int64   `json:"segment_id"`
	DocumentID int64   `json:"document_id"`
	Transcript string  `json:"transcript"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
}

// Related lists the records of a source's document in the other modalities.
type Related struct {
	Text   []ChunkLink `json:"text"`
	Images []ImageLink `json:"images"`
	Audio  []AudioLink `json:"audio"`
}

type TimedSegment struct {
	AudioLink
	TimeOffset float64 `json:"time_offset"`
}
