package tournament

import (
	"sort"
	"strings"

	"boostplane/pkg/random"
	"boostplane/services/boost/condition"
)

// ScoreType tags how a score should be read downstream.
type ScoreType string

const (
	ScoreTypeNumber  ScoreType = "NUMBER"
	ScoreTypePercent ScoreType = "PERCENT"
)

// ScoreTypeFor maps a game response's score field name to its type.
func ScoreTypeFor(scoreField string) ScoreType {
	if strings.Contains(strings.ToLower(scoreField), "percent") {
		return ScoreTypePercent
	}
	return ScoreTypeNumber
}

// Entry is one account's game submission. Seq is the submission order the
// responses were recorded in; it is the final tie break when a game carries
// no usable time field.
type Entry struct {
	AccountID       string
	ScoreField      string
	Score           float64
	TimeTakenMillis int64
	Seq             int64
}

// RankedEntry is an Entry with its dense 1-based rank and the context every
// GAME_OUTCOME log row carries.
type RankedEntry struct {
	Entry
	Rank      int64
	TopScore  float64
	ScoreType ScoreType
}

// Rank orders entries by descending score, breaking ties by ascending
// TimeTakenMillis and then submission order. Ranks are dense and 1-based.
// The input slice is not mutated; rerunning on the same input yields
// identical output.
func Rank(entries []Entry) []RankedEntry {
	if len(entries) == 0 {
		return nil
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].TimeTakenMillis != sorted[j].TimeTakenMillis {
			return sorted[i].TimeTakenMillis < sorted[j].TimeTakenMillis
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	topScore := sorted[0].Score
	out := make([]RankedEntry, 0, len(sorted))
	rank := int64(0)
	for i, e := range sorted {
		if i == 0 || e.Score != sorted[i-1].Score || e.TimeTakenMillis != sorted[i-1].TimeTakenMillis {
			rank++
		}
		out = append(out, RankedEntry{
			Entry:     e,
			Rank:      rank,
			TopScore:  topScore,
			ScoreType: ScoreTypeFor(e.ScoreField),
		})
	}
	return out
}

// SelectRandom draws n distinct winners from the ranked entries using the
// injected source. Fewer entries than n means everyone is selected.
func SelectRandom(ranked []RankedEntry, n int64, src random.Source) map[string]bool {
	selected := make(map[string]bool)
	if n <= 0 || len(ranked) == 0 {
		return selected
	}
	if int64(len(ranked)) <= n {
		for _, e := range ranked {
			selected[e.AccountID] = true
		}
		return selected
	}

	for _, idx := range src.Perm(len(ranked))[:n] {
		selected[ranked[idx].AccountID] = true
	}
	return selected
}

// Contexts builds the per-account game view the condition evaluator consumes.
// Accounts absent from the map never played.
func Contexts(ranked []RankedEntry, randomlySelected map[string]bool) map[string]condition.GameContext {
	out := make(map[string]condition.GameContext, len(ranked))
	for _, e := range ranked {
		ctx := condition.GameContext{
			Played:           true,
			Rank:             e.Rank,
			RandomlySelected: randomlySelected[e.AccountID],
		}
		switch e.ScoreType {
		case ScoreTypePercent:
			ctx.PercentDestroyed = e.Score
		default:
			ctx.NumberTaps = int64(e.Score)
		}
		out[e.AccountID] = ctx
	}
	return out
}
