package source

import (
	"fmt"

	"github.com/google/uuid"

	"studybuddy/internal/ragcontext"
)

// previewLimit caps content_preview at 200 characters.
const previewLimit = 200

// FromReferences classifies each reference into a Source. Classification
// precedence: document_id present -> slide, else lecture_id -> lecture, else
// unknown. Chunk numbers already assigned by the formatter are kept; a
// reference without one falls back to its 1-based position.
//
// Extraction is idempotent for slide and lecture sources (the id is a pure
// function of the stable keys) and deliberately not for unknown ones.
func FromReferences(refs []ragcontext.Reference) []Source {
	if len(refs) == 0 {
		return nil
	}

	sources := make([]Source, 0, len(refs))
	for i, ref := range refs {
		chunk := ref.ChunkNumber
		if chunk == 0 {
			chunk = i + 1
		}

		s := Source{
			ContentPreview: preview(ref.Content),
			ChunkNumber:    chunk,
			Title:          ref.Name,
			CourseID:       ref.MetaString("course_id"),
			OwnerID:        ref.MetaString("owner_id"),
		}

		switch {
		case ref.MetaString("document_id") != "":
			docID := ref.MetaString("document_id")
			slideNo, _ := ref.MetaInt("slide_number")
			s.SourceType = TypeSlide
			s.SourceID = SlideID(docID, slideNo)
			s.DocumentID = docID
			if n, ok := ref.MetaInt("slide_number"); ok {
				s.SlideNumber = &n
			}

		case ref.MetaString("lecture_id") != "":
			lecID := ref.MetaString("lecture_id")
			start, _ := ref.MetaFloat("start_seconds")
			s.SourceType = TypeLecture
			s.SourceID = LectureID(lecID, start)
			s.LectureID = lecID
			if v, ok := ref.MetaFloat("start_seconds"); ok {
				s.StartSeconds = &v
			}
			if v, ok := ref.MetaFloat("end_seconds"); ok {
				s.EndSeconds = &v
			}

		default:
			s.SourceType = TypeUnknown
			s.SourceID = uuid.NewString()
		}

		sources = append(sources, s)
	}
	return sources
}

// FromGroups unwraps the reference-group container shape (one wrapper around
// an inner reference list) and extracts sources from every group in order.
func FromGroups(groups []ragcontext.ReferenceGroup) []Source {
	var all []Source
	for _, g := range groups {
		if len(g.References) == 0 {
			continue
		}
		all = append(all, FromReferences(g.References)...)
	}
	return all
}

// SlideID builds the deterministic identifier for a slide source.
func SlideID(documentID string, slideNumber int) string {
	return fmt.Sprintf("slide-%s-%d", documentID, slideNumber)
}

// LectureID builds the deterministic identifier for a lecture source. The
// timestamp is floored so sub-second jitter in retrieval metadata cannot
// split one segment into several ids.
func LectureID(lectureID string, startSeconds float64) string {
	return fmt.Sprintf("lecture-%s-%d", lectureID, int(startSeconds))
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit])
}
