package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Modality is one of text, image or audio. Each has its own vector index and record type.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// AllModalities is the fixed priority order used for citations.
var AllModalities = []Modality{ModalityText, ModalityImage, ModalityAudio}

func ParseModality(s string) (Modality, error) {
	switch m := Modality(strings.ToLower(strings.TrimSpace(s))); m {
	case ModalityText, ModalityImage, ModalityAudio:
		return m, nil
	default:
		return "", fmt.Errorf("unknown modality %q", s)
	}
}

// ParseModalities parses a comma separated list, dropping duplicates.
func ParseModalities(csv string) ([]Modality, error) {
	var out []Modality
	seen := map[Modality]bool{}
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		m, err := ParseModality(part)
		if err != nil {
			return nil, err
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

var extensionModality = map[string]Modality{
	".pdf":  ModalityText,
	".docx": ModalityText,
	".pptx": ModalityText,
	".xlsx": ModalityText,
	".ods":  ModalityText,
	".txt":  ModalityText,
	".md":   ModalityText,
	".png":  ModalityImage,
	".jpg":  ModalityImage,
	".jpeg": ModalityImage,
	".gif":  ModalityImage,
	".bmp":  ModalityImage,
	".webp": ModalityImage,
	".mp3":  ModalityAudio,
	".wav":  ModalityAudio,
	".m4a":  ModalityAudio,
	".flac": ModalityAudio,
	".ogg":  ModalityAudio,
}

// ModalityForExtension maps a lower-case extension including the dot.
func ModalityForExtension(ext string) (Modality, error) {
	m, ok := extensionModality[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	return m, nil
}

// Status is the processing state of a document: pending -> processing -> completed | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stage is the durable ingestion checkpoint of a document.
type Stage string

const (
	StageNone           Stage = ""
	StageRecordsWritten Stage = "records_written"
	StageIndexed        Stage = "indexed"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID               int64          `bun:"id,pk,autoincrement" json:"id"`
	Filename         string         `bun:"filename,notnull" json:"filename"`
	OriginalFilename string         `bun:"original_filename,notnull" json:"original_filename"`
	FileType         string         `bun:"file_type,notnull" json:"file_type"`
	Modality         Modality       `bun:"modality,notnull" json:"modality"`
	FileSize         int64          `bun:"file_size" json:"file_size"`
	StoragePath      string         `bun:"storage_path,notnull" json:"storage_path"`
	Status           Status         `bun:"status,notnull" json:"status"`
	Stage            Stage          `bun:"stage" json:"stage"`
	Error            string         `bun:"error" json:"error,omitempty"`
	Metadata         map[string]any `bun:"metadata,type:json" json:"metadata,omitempty"`
	CreatedAt        time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// Chunk is a bounded span of extracted text.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID         int64          `bun:"id,pk,autoincrement" json:"id"`
	DocumentID int64          `bun:"document_id,notnull" json:"document_id"`
	Content    string         `bun:"content,notnull" json:"content"`
	ChunkIndex int            `bun:"chunk_index,notnull" json:"chunk_index"`
	TokenCount int            `bun:"token_count" json:"token_count"`
	PageNumber *int           `bun:"page_number" json:"page_number,omitempty"`
	Metadata   map[string]any `bun:"metadata,type:json" json:"metadata,omitempty"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

type ImageRecord struct {
	bun.BaseModel `bun:"table:image_embeddings,alias:ie"`

	ID         int64          `bun:"id,pk,autoincrement" json:"id"`
	DocumentID int64          `bun:"document_id,notnull" json:"document_id"`
	ImagePath  string         `bun:"image_path,notnull" json:"image_path"`
	Width      int            `bun:"width" json:"width"`
	Height     int            `bun:"height" json:"height"`
	Format     string         `bun:"format" json:"format"`
	Caption    string         `bun:"caption" json:"caption,omitempty"`
	Metadata   map[string]any `bun:"metadata,type:json" json:"metadata,omitempty"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

type AudioSegment struct {
	bun.BaseModel `bun:"table:audio_segments,alias:aseg"`

	ID         int64          `bun:"id,pk,autoincrement" json:"id"`
	DocumentID int64          `bun:"document_id,notnull" json:"document_id"`
	Transcript string         `bun:"transcript,notnull" json:"transcript"`
	StartTime  float64        `bun:"start_time" json:"start_time"`
	EndTime    float64        `bun:"end_time" json:"end_time"`
	Confidence float64        `bun:"confidence" json:"confidence"`
	Speaker    string         `bun:"speaker" json:"speaker,omitempty"`
	Metadata   map[string]any `bun:"metadata,type:json" json:"metadata,omitempty"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

func (s AudioSegment) Duration() float64 {
	return s.EndTime - s.StartTime
}
