// Package candidates extracts candidate safe/harmful pairs from free-form model output.
// Parsing fails soft: malformed items are skipped and counted, never fatal.
package candidates

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/lamim/pairforge/internal/util"
	"github.com/lamim/pairforge/pkg/models"
)

// ErrUnparseable means no candidate pair could be recovered from a response
var ErrUnparseable = errors.New("no candidate pairs found in response")

// Result holds the pairs recovered from one response
type Result struct {
	Pairs     []models.CandidatePair
	Malformed int // Items that looked like pairs but lacked usable safe/harmful text
}

var (
	// Complete {"safe": ..., "harmful": ...} objects, in either key order
	safeFirstRegex    = regexp.MustCompile(`\{\s*"safe"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,\s*"harmful"\s*:\s*"((?:[^"\\]|\\.)*)"\s*\}`)
	harmfulFirstRegex = regexp.MustCompile(`\{\s*"harmful"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,\s*"safe"\s*:\s*"((?:[^"\\]|\\.)*)"\s*\}`)

	// "1. Safe: ...", "- SAFE: ...", "Harmful - ..."
	labelRegex = regexp.MustCompile(`(?i)^\s*(?:[-*•]|\d+[.)])?\s*\**\s*(safe|harmful)\s*\**\s*[:\-–]\s*(.*)$`)
)

// Parse recovers candidate pairs from one model response.
// Accepted shapes, tried in order: a JSON object with "pairs" or "scenarios",
// a JSON array, a single {"safe","harmful"} object, JSON wrapped in prose or
// markdown fences (truncated output is closed), loose pair objects, and
// labelled "Safe: / Harmful:" lines.
func Parse(content string) (Result, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Result{}, ErrUnparseable
	}

	if v, ok := decode(content); ok {
		if res, ok := fromValue(v); ok {
			return res, nil
		}
	}

	extracted := util.RepairJSON(util.ExtractJSON(content))
	if v, ok := decode(extracted); ok {
		if res, ok := fromValue(v); ok {
			return res, nil
		}
	}

	if res := fromLooseObjects(content); len(res.Pairs) > 0 {
		return res, nil
	}

	if res := fromLabelledLines(content); len(res.Pairs) > 0 || res.Malformed > 0 {
		return res, nil
	}

	return Result{}, ErrUnparseable
}

func decode(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// fromValue reports ok=false when v has no recognizable pair structure at all
func fromValue(v any) (Result, bool) {
	switch t := v.(type) {
	case map[string]any:
		for _, key := range []string{"pairs", "scenarios"} {
			if items, ok := lookup(t, key).([]any); ok {
				return fromItems(items), true
			}
		}
		if _, hasSafe := lookup(t, "safe").(string); hasSafe {
			return fromItems([]any{t}), true
		}
		if _, hasHarmful := lookup(t, "harmful").(string); hasHarmful {
			return fromItems([]any{t}), true
		}
		// {"data": [...]} and similar single-key wrappers
		if len(t) == 1 {
			for _, inner := range t {
				if items, ok := inner.([]any); ok {
					return fromItems(items), true
				}
			}
		}
		return Result{}, false
	case []any:
		return fromItems(t), true
	}
	return Result{}, false
}

func fromItems(items []any) Result {
	var res Result
	for _, item := range items {
		pair, ok := toPair(item)
		if !ok {
			res.Malformed++
			continue
		}
		res.Pairs = append(res.Pairs, pair)
	}
	return res
}

func toPair(item any) (models.CandidatePair, bool) {
	switch t := item.(type) {
	case map[string]any:
		safe, _ := lookup(t, "safe").(string)
		harmful, _ := lookup(t, "harmful").(string)
		return newPair(safe, harmful)
	case []any:
		if len(t) != 2 {
			return models.CandidatePair{}, false
		}
		safe, _ := t[0].(string)
		harmful, _ := t[1].(string)
		return newPair(safe, harmful)
	}
	return models.CandidatePair{}, false
}

func newPair(safe, harmful string) (models.CandidatePair, bool) {
	safe = strings.TrimSpace(safe)
	harmful = strings.TrimSpace(harmful)
	if safe == "" || harmful == "" {
		return models.CandidatePair{}, false
	}
	return models.CandidatePair{Safe: safe, Harmful: harmful}, true
}

// lookup is a case-insensitive key lookup
func lookup(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func fromLooseObjects(content string) Result {
	var res Result
	add := func(safe, harmful string) {
		if p, ok := newPair(unescape(safe), unescape(harmful)); ok {
			res.Pairs = append(res.Pairs, p)
		} else {
			res.Malformed++
		}
	}
	for _, m := range safeFirstRegex.FindAllStringSubmatch(content, -1) {
		add(m[1], m[2])
	}
	for _, m := range harmfulFirstRegex.FindAllStringSubmatch(content, -1) {
		add(m[2], m[1])
	}
	return res
}

func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

func fromLabelledLines(content string) Result {
	var res Result
	var pendingSafe string
	havePending := false

	for _, line := range strings.Split(content, "\n") {
		m := labelRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := cleanLabelledText(m[2])
		switch strings.ToLower(m[1]) {
		case "safe":
			if havePending {
				// Safe without a Harmful partner
				res.Malformed++
			}
			pendingSafe, havePending = text, true
		case "harmful":
			if !havePending {
				res.Malformed++
				continue
			}
			if p, ok := newPair(pendingSafe, text); ok {
				res.Pairs = append(res.Pairs, p)
			} else {
				res.Malformed++
			}
			havePending = false
		}
	}
	if havePending {
		res.Malformed++
	}
	return res
}

func cleanLabelledText(s string) string {
	return strings.Trim(s, " \t*,\"'“”")
}
