package router

import (
	"regexp"
	"strings"
)

// Priority is the layer tie-break order for a classified intent (e.g.
// fact > event > graph for the default fan-out).
type Priority []Layer

// rank returns l's position in p (lower is higher priority), or len(p) if
// l is absent so unranked layers always sort last.
func (p Priority) rank(l Layer) int {
	for i, x := range p {
		if x == l {
			return i
		}
	}
	return len(p)
}

var defaultFanoutLayers = []Layer{LayerFact, LayerEvent, LayerGraph}
var defaultFanoutPriority = Priority{LayerFact, LayerEvent, LayerGraph}

var (
	temporalRe   = regexp.MustCompile(`(?i)\b(when|yesterday|today|last week|ago)\b`)
	factualRe    = regexp.MustCompile(`(?i)\b(what is|what's|define|definition of)\b`)
	relationalRe = regexp.MustCompile(`(?i)(how is .+ related to|related to|path from)`)
	proceduralRe = regexp.MustCompile(`(?i)\b(how do i|how to|steps to)\b`)
	metaRe       = regexp.MustCompile(`(?i)\b(how confident|quality of|confidence)\b`)
)

// classify is a lightweight keyword-feature classifier: a regex fallback,
// since a semantic classifier is an external collaborator this core does
// not own. Returns the layers to query and the tie-break priority for
// merging their results.
func classify(query string) ([]Layer, Priority) {
	q := strings.TrimSpace(query)
	switch {
	case temporalRe.MatchString(q):
		return []Layer{LayerEvent}, Priority{LayerEvent}
	case factualRe.MatchString(q):
		return []Layer{LayerFact}, Priority{LayerFact}
	case relationalRe.MatchString(q):
		return []Layer{LayerGraph}, Priority{LayerGraph}
	case proceduralRe.MatchString(q):
		return []Layer{LayerProcedure}, Priority{LayerProcedure}
	case metaRe.MatchString(q):
		return []Layer{LayerMeta}, Priority{LayerMeta}
	default:
		return defaultFanoutLayers, defaultFanoutPriority
	}
}
