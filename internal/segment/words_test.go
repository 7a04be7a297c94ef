package segment

import "testing"

func TestFromWords(t *testing.T) {
	t.Run("converts_seconds_to_ms", func(t *testing.T) {
		words := []Word{
			{Word: " Air", Start: 0.0, End: 0.3},
			{Word: "2", Start: 0.3, End: 0.5},
			{Word: "pilot", Start: 0.5, End: 0.9},
		}
		segs := FromWords("rec", words, nil)
		if len(segs) != 3 {
			t.Fatalf("expected 3 segments, got %d", len(segs))
		}
		if segs[0].Word != "Air" {
			t.Errorf("word not trimmed: %q", segs[0].Word)
		}
		if segs[2].Start != 500 || segs[2].End != 900 {
			t.Errorf("segment 2 = [%d,%d], want [500,900]", segs[2].Start, segs[2].End)
		}
		if segs[1].ID != "rec-1" || segs[1].WordIndex != 1 {
			t.Errorf("segment 1 id/index = %q/%d", segs[1].ID, segs[1].WordIndex)
		}
		if err := Validate(segs); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("skips_blank_words_and_keeps_indices_dense", func(t *testing.T) {
		words := []Word{
			{Word: "a", Start: 0, End: 0.1},
			{Word: "  ", Start: 0.1, End: 0.2},
			{Word: "b", Start: 0.2, End: 0.3},
		}
		segs := FromWords("rec", words, nil)
		if len(segs) != 2 || segs[1].WordIndex != 1 {
			t.Fatalf("unexpected segments: %+v", segs)
		}
	})

	t.Run("clamps_non_monotonic_provider_output", func(t *testing.T) {
		words := []Word{
			{Word: "a", Start: 1.0, End: 1.2},
			{Word: "b", Start: 0.98, End: 0.9},
		}
		segs := FromWords("rec", words, nil)
		if segs[1].Start != 1000 || segs[1].End != 1000 {
			t.Errorf("segment 1 = [%d,%d], want [1000,1000]", segs[1].Start, segs[1].End)
		}
		if err := Validate(segs); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("attributes_speakers", func(t *testing.T) {
		words := []Word{
			{Word: "hello", Start: 0.0, End: 0.5},
			{Word: "there", Start: 2.1, End: 2.4},
			{Word: "late", Start: 9.0, End: 9.2},
		}
		turns := []Turn{
			{Speaker: "alice", Pos: 0, Duration: 2},
			{Speaker: "bob", Pos: 2, Duration: 3},
		}
		segs := FromWords("rec", words, turns)
		want := []string{"alice", "bob", "bob"}
		for i, s := range segs {
			if s.Speaker != want[i] {
				t.Errorf("segment %d speaker = %q, want %q", i, s.Speaker, want[i])
			}
		}
	})
}
