package ragcontext

import (
	"fmt"
	"sort"
	"strings"
)

// Ordering selects how retrieved chunks are arranged before numbering.
type Ordering string

const (
	// OrderRelevance keeps the input order (pre-ranked by vector similarity).
	OrderRelevance Ordering = "relevance"
	// OrderChronological orders slides by slide number and lectures by
	// timestamp, so citations follow the course material.
	OrderChronological Ordering = "chronological"
)

// ParseOrdering maps a config string to an Ordering, defaulting to
// chronological for anything unrecognized.
func ParseOrdering(s string) Ordering {
	if s == string(OrderRelevance) {
		return OrderRelevance
	}
	return OrderChronological
}

// FormattedContext separates what the model sees from what the client
// receives.
type FormattedContext struct {
	// ModelContext is lean numbered text for LLM consumption.
	ModelContext string

	// ClientSources carries full metadata with chunk numbers for the
	// frontend.
	ClientSources []Reference

	// ChunkMap maps chunk number -> original reference for post-processing.
	ChunkMap map[int]Reference
}

// Format transforms raw references into lean model context and rich client
// sources. Chunk numbers are 1-based final positions and are assigned exactly
// once; everything downstream treats them as immutable. Format never fails on
// malformed input: references with missing metadata land in the trailing
// bucket with a generic hint.
func Format(references []Reference, order Ordering) FormattedContext {
	ordered := orderChunks(references, order)

	return FormattedContext{
		ModelContext:  buildModelContext(ordered),
		ClientSources: enrichClientSources(ordered),
		ChunkMap:      buildChunkMap(ordered),
	}
}

// orderChunks arranges references by the given strategy. Chronological mode
// partitions into slides (document_id present), lectures (lecture_id present)
// and everything else, sorts the first two buckets, and concatenates
// slides + lectures + other.
func orderChunks(references []Reference, order Ordering) []Reference {
	if order != OrderChronological {
		return references
	}

	var slides, lectures, other []Reference
	for _, ref := range references {
		switch {
		case ref.MetaString("document_id") != "":
			slides = append(slides, ref)
		case ref.MetaString("lecture_id") != "":
			lectures = append(lectures, ref)
		default:
			other = append(other, ref)
		}
	}

	sort.SliceStable(slides, func(i, j int) bool {
		di, dj := slides[i].MetaString("document_id"), slides[j].MetaString("document_id")
		if di != dj {
			return di < dj
		}
		ni, _ := slides[i].MetaInt("slide_number")
		nj, _ := slides[j].MetaInt("slide_number")
		return ni < nj
	})
	sort.SliceStable(lectures, func(i, j int) bool {
		li, lj := lectures[i].MetaString("lecture_id"), lectures[j].MetaString("lecture_id")
		if li != lj {
			return li < lj
		}
		si, _ := lectures[i].MetaFloat("start_seconds")
		sj, _ := lectures[j].MetaFloat("start_seconds")
		return si < sj
	})

	ordered := make([]Reference, 0, len(references))
	ordered = append(ordered, slides...)
	ordered = append(ordered, lectures...)
	ordered = append(ordered, other...)
	return ordered
}

// buildModelContext builds the numbered context string for the LLM - content
// only, minimal metadata. Whitespace-only chunks are skipped but keep their
// number so citations stay aligned with ClientSources.
func buildModelContext(ordered []Reference) string {
	var lines []string
	for i, ref := range ordered {
		content := strings.TrimSpace(ref.Content)
		if content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%d] (%s) %s", i+1, sourceHint(ref), content))
	}
	return strings.Join(lines, "\n\n")
}

// sourceHint generates a minimal source hint for model context.
func sourceHint(ref Reference) string {
	if ref.MetaString("document_id") != "" {
		if n, ok := ref.MetaInt("slide_number"); ok {
			return fmt.Sprintf("Slide %d", n)
		}
		return "Slide ?"
	}
	if ref.MetaString("lecture_id") != "" {
		start, _ := ref.MetaFloat("start_seconds")
		return fmt.Sprintf("Lecture @%s", FormatTimestamp(start))
	}
	return "Source"
}

// FormatTimestamp formats seconds into M:SS or H:MM:SS.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// enrichClientSources copies the ordered references with chunk numbers merged
// in, retaining all original fields.
func enrichClientSources(ordered []Reference) []Reference {
	enriched := make([]Reference, len(ordered))
	for i, ref := range ordered {
		ref.ChunkNumber = i + 1
		enriched[i] = ref
	}
	return enriched
}

// buildChunkMap maps chunk number to the original (un-numbered) reference.
func buildChunkMap(ordered []Reference) map[int]Reference {
	chunkMap := make(map[int]Reference, len(ordered))
	for i, ref := range ordered {
		chunkMap[i+1] = ref
	}
	return chunkMap
}
