// Package source classifies ordered references into structured,
// citation-addressable records. Slide and lecture sources get deterministic
// identifiers so repeated extraction (and retried persistence) converges on
// the same rows; unclassifiable references get a fresh random id.
package source

// Type discriminates what kind of course material a source points at.
type Type string

const (
	TypeSlide   Type = "slide"
	TypeLecture Type = "lecture"
	TypeUnknown Type = "unknown"
)

// Source is a citation-addressable record derived from a retrieval reference.
// Optional numeric fields are pointers so zero values survive serialization
// while absent values are omitted.
type Source struct {
	SourceID       string   `json:"source_id"`
	SourceType     Type     `json:"source_type"`
	ContentPreview string   `json:"content_preview"`
	ChunkNumber    int      `json:"chunk_number,omitempty"`
	DocumentID     string   `json:"document_id,omitempty"`
	SlideNumber    *int     `json:"slide_number,omitempty"`
	LectureID      string   `json:"lecture_id,omitempty"`
	StartSeconds   *float64 `json:"start_seconds,omitempty"`
	EndSeconds     *float64 `json:"end_seconds,omitempty"`
	CourseID       string   `json:"course_id,omitempty"`
	OwnerID        string   `json:"owner_id,omitempty"`
	Title          string   `json:"title,omitempty"`
}

// DisplayTitle returns the title to show clients, falling back to a generic
// label derived from the source type.
func (s Source) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	switch s.SourceType {
	case TypeSlide:
		return "Slide Source"
	case TypeLecture:
		return "Lecture Source"
	default:
		return "Unknown Source"
	}
}
