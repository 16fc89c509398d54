package consolidate

import (
	"fmt"
	"sort"
	"strings"
)

// extractCandidates implements Stage B over the full cluster set produced
// by Stage A: frequent-sequence mining (an ordered action n-gram present
// in >= minSupport clusters) and co-occurrence mining (event-type
// pairs co-occurring with conditional probability >= threshold; triples
// are not mined).
func extractCandidates(clusters []Cluster, minSupport int, coOccurrenceThreshold float64, domain string) []Candidate {
	var candidates []Candidate
	candidates = append(candidates, frequentSequences(clusters, minSupport, domain)...)
	candidates = append(candidates, coOccurringPairs(clusters, coOccurrenceThreshold, domain)...)
	return candidates
}

// frequentSequences mines 2-grams and 3-grams of event descriptions within
// each cluster (the cluster's events are already timestamp-ordered), then
// keeps every distinct n-gram appearing in at least minSupport distinct
// clusters.
func frequentSequences(clusters []Cluster, minSupport int, domain string) []Candidate {
	type occurrence struct {
		support    map[int]bool // cluster index -> seen
		eventIDs   []uint64
	}
	seqs := make(map[string]*occurrence)
	var order []string // first-seen order, for determinism

	register := func(clusterIdx int, key string, descs []string, ids []uint64) {
		occ, ok := seqs[key]
		if !ok {
			occ = &occurrence{support: make(map[int]bool)}
			seqs[key] = occ
			order = append(order, key)
		}
		occ.support[clusterIdx] = true
		occ.eventIDs = append(occ.eventIDs, ids...)
	}

	for ci, c := range clusters {
		for n := 2; n <= 3; n++ {
			if len(c.Events) < n {
				continue
			}
			for i := 0; i+n <= len(c.Events); i++ {
				descs := make([]string, n)
				ids := make([]uint64, n)
				for j := 0; j < n; j++ {
					descs[j] = c.Events[i+j].Description
					ids[j] = c.Events[i+j].ID
				}
				register(ci, strings.Join(descs, "\x00"), descs, ids)
			}
		}
	}

	var out []Candidate
	for _, key := range order {
		occ := seqs[key]
		if len(occ.support) < minSupport {
			continue
		}
		steps := strings.Split(key, "\x00")
		out = append(out, Candidate{
			Summary:  "pattern: " + strings.Join(steps, " → "),
			Template: steps,
			Support:  dedupUint64(occ.eventIDs),
			Domain:   domain,
		})
	}
	return out
}

// coOccurringPairs mines event-type pairs co-occurring within the same
// cluster whose conditional probability P(B seen in cluster | A seen in
// cluster) is at least threshold.
func coOccurringPairs(clusters []Cluster, threshold float64, domain string) []Candidate {
	typeClusterCount := make(map[string]int)
	pairClusterCount := make(map[[2]string]int)
	pairEventIDs := make(map[[2]string][]uint64)

	for _, c := range clusters {
		typesPresent := make(map[string]bool)
		idsByType := make(map[string][]uint64)
		for _, ev := range c.Events {
			typesPresent[ev.EventType] = true
			idsByType[ev.EventType] = append(idsByType[ev.EventType], ev.ID)
		}
		types := make([]string, 0, len(typesPresent))
		for t := range typesPresent {
			types = append(types, t)
			typeClusterCount[t]++
		}
		sort.Strings(types)
		for i, a := range types {
			for _, b := range types[i+1:] {
				key := [2]string{a, b}
				pairClusterCount[key]++
				pairEventIDs[key] = append(pairEventIDs[key], idsByType[a]...)
				pairEventIDs[key] = append(pairEventIDs[key], idsByType[b]...)
			}
		}
	}

	var keys [][2]string
	for k := range pairClusterCount {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	var out []Candidate
	for _, k := range keys {
		a, b := k[0], k[1]
		if typeClusterCount[a] == 0 {
			continue
		}
		condProb := float64(pairClusterCount[k]) / float64(typeClusterCount[a])
		if condProb < threshold {
			continue
		}
		out = append(out, Candidate{
			Summary:           fmt.Sprintf("co-occurrence: %s with %s", a, b),
			Template:          []string{a, b},
			Support:           dedupUint64(pairEventIDs[k]),
			Domain:            domain,
			CoOccurrenceStats: map[string]float64{fmt.Sprintf("%s|%s", a, b): condProb},
		})
	}
	return out
}

func dedupUint64(ids []uint64) []uint64 {
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
