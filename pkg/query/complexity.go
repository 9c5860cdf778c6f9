package query

import (
	"strings"
	"time"
)

// Complexity scoring bounds and weights.
const (
	minScore = 1
	maxScore = 10

	// perScorePoint is the duration each complexity point is expected
	// to cost. EstimatedDuration = Score * perScorePoint.
	perScorePoint = 500 * time.Millisecond

	// hotEligibleMax is the highest score still considered cheap enough
	// for the hot cache tier.
	hotEligibleMax = 3
)

// expensiveOps are CPGQL constructs that trigger graph traversals far
// costlier than simple node lookups. Each one present adds a point,
// counted at most once per operation.
var expensiveOps = []string{"repeat", "flows", "reachableBy", "sinks", "sources"}

// Complexity is the heuristic cost estimate for a query. It never fails;
// a wrong estimate costs some cache efficiency, nothing more.
type Complexity struct {
	// Score is the overall cost estimate, 1 (trivial) to 10 (pathological).
	Score int
	// EstimatedDuration is the expected wall time for the query.
	EstimatedDuration time.Duration
	// CachePriority ranks how much the result is worth keeping,
	// 5 (most cache-worthy) down to 1 (least). Cheap queries are the
	// ones agents hammer repeatedly, so they rank highest.
	CachePriority int
}

// HotEligible reports whether results for this query belong in the hot
// LRU tier rather than the TTL cold tier.
func (c Complexity) HotEligible() bool {
	return c.Score <= hotEligibleMax
}

// Estimate scores a query from three signals: length, parenthesis
// nesting depth, and the presence of expensive traversal operations.
//
//	base 1
//	+ min(len/100, 3)       long queries tend to chain more steps
//	+ min(maxNesting, 3)    nesting tracks predicate complexity
//	+ 1 per expensive op    repeat/flows/reachableBy/sinks/sources
//
// clamped to [1, 10].
func Estimate(q string) Complexity {
	score := minScore

	if n := len(q) / 100; n > 3 {
		score += 3
	} else {
		score += n
	}

	if d := maxParenNesting(q); d > 3 {
		score += 3
	} else {
		score += d
	}

	for _, op := range expensiveOps {
		if strings.Contains(q, op) {
			score++
		}
	}

	if score > maxScore {
		score = maxScore
	}
	if score < minScore {
		score = minScore
	}

	prio := 6 - score/2
	if prio < 1 {
		prio = 1
	}
	if prio > 5 {
		prio = 5
	}

	return Complexity{
		Score:             score,
		EstimatedDuration: time.Duration(score) * perScorePoint,
		CachePriority:     prio,
	}
}

// maxParenNesting returns the deepest parenthesis nesting in q.
// Unbalanced closers are ignored rather than driving depth negative.
func maxParenNesting(q string) int {
	depth, max := 0, 0
	for _, r := range q {
		switch r {
		case '(':
			depth++
			if depth > max {
				max = depth
			}
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}
