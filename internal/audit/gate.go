package audit

import (
	"fmt"
	"strings"
)

// Result is the outcome of one gate run. Reason is empty on pass.
type Result struct {
	Passed bool
	Reason string
}

func pass() Result                  { return Result{Passed: true} }
func fail(field, why string) Result { return Result{Reason: field + why} }

// Gate screens submitted recipe text before human moderation.
// It is pure: no I/O, safe to re-run on redelivery.
type Gate struct {
	denylist []string
}

// NewGate builds a gate over a denylist of phrases. Matching is
// case-insensitive substring.
func NewGate(denylist []string) *Gate {
	lowered := make([]string, 0, len(denylist))
	for _, p := range denylist {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lowered = append(lowered, strings.ToLower(p))
	}
	return &Gate{denylist: lowered}
}

// Check runs the gate over a recipe's title, description and ordered
// step texts. The first violating field short-circuits.
func (g *Gate) Check(title, description string, steps []string) Result {
	if r := g.checkField("title ", title); !r.Passed {
		return r
	}
	if r := g.checkField("description ", description); !r.Passed {
		return r
	}
	for i, s := range steps {
		if r := g.checkField(fmt.Sprintf("step %d ", i+1), s); !r.Passed {
			return r
		}
	}
	return pass()
}

func (g *Gate) checkField(label, text string) Result {
	if strings.TrimSpace(text) == "" {
		return pass()
	}
	lowered := strings.ToLower(text)
	for _, phrase := range g.denylist {
		if strings.Contains(lowered, phrase) {
			return fail(label, "contains a banned phrase: "+phrase)
		}
	}
	if containsURL(lowered) {
		return fail(label, "contains a link, which is not allowed")
	}
	return pass()
}

func containsURL(lowered string) bool {
	return strings.Contains(lowered, "http://") ||
		strings.Contains(lowered, "https://") ||
		strings.Contains(lowered, "www.")
}
