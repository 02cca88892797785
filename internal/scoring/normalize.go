// Package scoring turns untrusted grader scores into rubric-bounded scores.
//
// RawScore values come straight from a language model and may name unknown
// criteria, carry out-of-range or non-numeric scores, or omit comments.
// Normalize is the only way to obtain a NormalizedScore.
package scoring

import (
	"encoding/json"
	"math"

	"github.com/tidwall/gjson"

	"github.com/heartmarshall/autograder/internal/rubric"
)

// RawScore is an unvalidated per-criterion score. Score and Comment keep the
// original JSON values so that the normalizer decides how to interpret them.
type RawScore struct {
	ID      string
	Score   gjson.Result
	Comment gjson.Result
}

// NormalizedScore is a score reconciled against a rubric:
// ID names a rubric criterion and 0 <= Score <= that criterion's max_points.
type NormalizedScore struct {
	ID      string
	Score   float64
	Comment string
}

// RawScoresFrom reads a JSON array of {id, score, comment} objects.
// Elements that are not objects yield a RawScore with an empty ID,
// which never matches a criterion.
func RawScoresFrom(criteria gjson.Result) []RawScore {
	if !criteria.IsArray() {
		return nil
	}
	items := criteria.Array()
	out := make([]RawScore, 0, len(items))
	for _, item := range items {
		var id string
		if item.IsObject() {
			id = item.Get("id").String()
		}
		out = append(out, RawScore{
			ID:      id,
			Score:   item.Get("score"),
			Comment: item.Get("comment"),
		})
	}
	return out
}

// NewRawScore builds a well-formed RawScore.
func NewRawScore(id string, score float64, comment string) RawScore {
	data, _ := json.Marshal(struct {
		Score   float64 `json:"score"`
		Comment string  `json:"comment"`
	}{score, comment})
	doc := gjson.ParseBytes(data)
	return RawScore{ID: id, Score: doc.Get("score"), Comment: doc.Get("comment")}
}

// Raw converts a normalized score back into raw form, e.g. to re-normalize it.
func (n NormalizedScore) Raw() RawScore {
	return NewRawScore(n.ID, n.Score, n.Comment)
}

// Normalize reconciles raws against r. Entries whose id is not a rubric
// criterion are dropped; scores are clamped into [0, max_points]; a score
// that is absent, null, non-numeric or not finite counts as 0; a missing
// comment becomes "". Matched entries keep their input order. Criteria with
// no raw score get no entry.
func Normalize(r rubric.Rubric, raws []RawScore) []NormalizedScore {
	out := make([]NormalizedScore, 0, len(raws))
	for _, raw := range raws {
		maxPoints, ok := r.MaxPoints(raw.ID)
		if !ok {
			continue
		}
		out = append(out, NormalizedScore{
			ID:      raw.ID,
			Score:   clamp(numericOrZero(raw.Score), 0, maxPoints),
			Comment: commentOrEmpty(raw.Comment),
		})
	}
	return out
}

// Sum adds up normalized scores.
func Sum(scores []NormalizedScore) float64 {
	total := 0.0
	for _, s := range scores {
		total += s.Score
	}
	return total
}

func numericOrZero(v gjson.Result) float64 {
	if v.Type != gjson.Number {
		return 0
	}
	if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
		return 0
	}
	return v.Num
}

func commentOrEmpty(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.Str
	default:
		return v.String()
	}
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
