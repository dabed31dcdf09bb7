package ragcontext

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func slideRef(doc string, slide int, content string) Reference {
	return Reference{
		Content: content,
		Metadata: map[string]interface{}{
			"document_id":  doc,
			"slide_number": slide,
		},
	}
}

func lectureRef(lec string, start float64, content string) Reference {
	return Reference{
		Content: content,
		Metadata: map[string]interface{}{
			"lecture_id":    lec,
			"start_seconds": start,
		},
	}
}

func TestFormat_ChunkNumbersGapFree(t *testing.T) {
	var refs []Reference
	for i := 0; i < 7; i++ {
		refs = append(refs, Reference{Content: fmt.Sprintf("chunk %d", i)})
	}

	got := Format(refs, OrderRelevance)

	if len(got.ClientSources) != len(refs) {
		t.Fatalf("ClientSources length = %d, want %d", len(got.ClientSources), len(refs))
	}
	for i, src := range got.ClientSources {
		if src.ChunkNumber != i+1 {
			t.Errorf("ClientSources[%d].ChunkNumber = %d, want %d", i, src.ChunkNumber, i+1)
		}
	}
	for n := 1; n <= len(refs); n++ {
		if _, ok := got.ChunkMap[n]; !ok {
			t.Errorf("ChunkMap missing chunk %d", n)
		}
	}
}

func TestFormat_ChronologicalSlideAndLecture(t *testing.T) {
	// Scenario: slide (D1, 3) and lecture (L1, 90s) in reverse input order.
	refs := []Reference{
		lectureRef("L1", 90, "lecture content"),
		slideRef("D1", 3, "slide content"),
	}

	got := Format(refs, OrderChronological)

	want := "[1] (Slide 3) slide content\n\n[2] (Lecture @1:30) lecture content"
	if got.ModelContext != want {
		t.Fatalf("ModelContext = %q, want %q", got.ModelContext, want)
	}

	if got.ChunkMap[1].MetaString("document_id") != "D1" {
		t.Errorf("ChunkMap[1] is not the slide reference: %+v", got.ChunkMap[1])
	}
	if got.ChunkMap[2].MetaString("lecture_id") != "L1" {
		t.Errorf("ChunkMap[2] is not the lecture reference: %+v", got.ChunkMap[2])
	}
}

func TestFormat_ChronologicalOrderWithinBuckets(t *testing.T) {
	refs := []Reference{
		slideRef("D1", 9, "nine"),
		lectureRef("L1", 300, "late"),
		slideRef("D1", 2, "two"),
		lectureRef("L1", 30, "early"),
		{Content: "unattributed"},
	}

	got := Format(refs, OrderChronological)

	var order []string
	for _, src := range got.ClientSources {
		order = append(order, src.Content)
	}
	want := []string{"two", "nine", "early", "late", "unattributed"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("chronological order mismatch (-want +got):\n%s", diff)
	}
}

func TestFormat_RelevancePreservesInputOrder(t *testing.T) {
	refs := []Reference{
		lectureRef("L1", 500, "most relevant"),
		slideRef("D1", 1, "second"),
		{Content: "third"},
	}

	got := Format(refs, OrderRelevance)

	for i, want := range []string{"most relevant", "second", "third"} {
		if got.ClientSources[i].Content != want {
			t.Errorf("ClientSources[%d].Content = %q, want %q", i, got.ClientSources[i].Content, want)
		}
	}
}

func TestFormat_SkipsWhitespaceOnlyContent(t *testing.T) {
	refs := []Reference{
		{Content: "real content"},
		{Content: "   \n\t "},
		{Content: "more content"},
	}

	got := Format(refs, OrderRelevance)

	if strings.Contains(got.ModelContext, "[2]") {
		t.Errorf("ModelContext should skip the blank chunk: %q", got.ModelContext)
	}
	// The blank chunk still occupies position 2 in the client view.
	if got.ClientSources[1].ChunkNumber != 2 {
		t.Errorf("blank chunk number = %d, want 2", got.ClientSources[1].ChunkNumber)
	}
	if !strings.Contains(got.ModelContext, "[3] (Source) more content") {
		t.Errorf("numbering must stay aligned after a skipped chunk: %q", got.ModelContext)
	}
}

func TestFormat_MalformedMetadataRoutesToOther(t *testing.T) {
	refs := []Reference{
		{Content: "odd", Metadata: map[string]interface{}{"document_id": 42}}, // non-string id
		slideRef("D9", 1, "fine"),
	}

	// Must not panic, and the malformed ref goes to the trailing bucket.
	got := Format(refs, OrderChronological)
	if got.ClientSources[0].Content != "fine" {
		t.Errorf("first chunk = %q, want the well-formed slide", got.ClientSources[0].Content)
	}
	if !strings.Contains(got.ModelContext, "(Source) odd") {
		t.Errorf("malformed ref should get the generic hint: %q", got.ModelContext)
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00"},
		{90, "1:30"},
		{599, "9:59"},
		{3600, "1:00:00"},
		{3725.8, "1:02:05"},
	}
	for _, tc := range cases {
		if got := FormatTimestamp(tc.seconds); got != tc.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestNormalizeRaw_MixedInput(t *testing.T) {
	raw := []interface{}{
		"bare string",
		map[string]interface{}{
			"content":  "structured",
			"name":     "Slides Week 2",
			"metadata": map[string]interface{}{"document_id": "D1"},
		},
		3.14, // garbage survives as stringified content
	}

	refs := NormalizeRaw(raw)

	if len(refs) != 3 {
		t.Fatalf("len = %d, want 3", len(refs))
	}
	if refs[0].Content != "bare string" {
		t.Errorf("refs[0].Content = %q", refs[0].Content)
	}
	if refs[1].Name != "Slides Week 2" || refs[1].MetaString("document_id") != "D1" {
		t.Errorf("refs[1] lost fields: %+v", refs[1])
	}
	if refs[2].Content != "3.14" {
		t.Errorf("refs[2].Content = %q", refs[2].Content)
	}
}
