package segment

import (
	"fmt"
	"math"
	"strings"
)

// Word is a timestamped word as returned by a speech-to-text provider.
// Times are in seconds.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Turn is a speaker turn inside the recording, used to attribute words.
type Turn struct {
	Speaker  string  `json:"speaker"`
	Pos      float64 `json:"pos"`      // start position in audio (seconds)
	Duration float64 `json:"duration"` // turn duration (seconds)
}

// FromWords converts provider words into an ordered segment sequence.
//
// Times are rounded to milliseconds and End is clamped so that Start <= End.
// Provider output is occasionally non-monotonic by a few ms; Start is clamped
// to the previous word's Start so the sequence stays sorted.
//
// When turns are provided, each word's midpoint (start+end)/2 is compared
// against turn boundaries [Pos, Pos+Duration). Words outside every turn are
// attributed to the nearest turn by start position.
func FromWords(recordingID string, words []Word, turns []Turn) []Segment {
	segs := make([]Segment, 0, len(words))
	var prevStart int64
	for _, w := range words {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		start := toMs(w.Start)
		end := toMs(w.End)
		if len(segs) > 0 && start < prevStart {
			start = prevStart
		}
		if end < start {
			end = start
		}
		prevStart = start

		idx := len(segs)
		s := Segment{
			ID:        fmt.Sprintf("%s-%d", recordingID, idx),
			Word:      text,
			Start:     start,
			End:       end,
			WordIndex: idx,
		}
		if len(turns) > 0 {
			s.Speaker = findTurn((w.Start+w.End)/2, turns)
		}
		segs = append(segs, s)
	}
	return segs
}

func toMs(sec float64) int64 {
	if sec <= 0 {
		return 0
	}
	return int64(math.Round(sec * 1000))
}

// findTurn returns the speaker whose turn contains t, falling back to the
// turn with the nearest start position.
func findTurn(t float64, turns []Turn) string {
	for _, tr := range turns {
		if t >= tr.Pos && t < tr.Pos+tr.Duration {
			return tr.Speaker
		}
	}

	bestIdx := 0
	bestDist := math.Abs(t - turns[0].Pos)
	for i := 1; i < len(turns); i++ {
		d := math.Abs(t - turns[i].Pos)
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	return turns[bestIdx].Speaker
}
