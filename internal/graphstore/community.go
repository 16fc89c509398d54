package graphstore

import (
	"math/rand"
	"sort"
)

// DetectCommunities partitions entities into communities using seeded
// label propagation followed by greedy modularity-gain merging: determinism
// for a fixed seed is required, but the modularity optimization need not be
// Leiden specifically. contradicts edges are excluded from the community
// signal — they indicate conflicting information, not affinity, so they
// must not pull entities into the same cluster.
//
// resolution scales the modularity gain threshold for merging (higher
// resolution favors more, smaller communities); seed makes label
// propagation's tie-breaking and iteration order reproducible.
func DetectCommunities(entityIDs []string, edges []Edge, resolution float64, seed int64) []Community {
	if len(entityIDs) == 0 {
		return nil
	}

	adjacency := buildAdjacency(entityIDs, edges)
	labels := labelPropagation(entityIDs, adjacency, seed)
	labels = greedyModularityMerge(entityIDs, adjacency, labels, resolution)

	grouped := make(map[string][]string)
	for _, id := range entityIDs {
		label := labels[id]
		grouped[label] = append(grouped[label], id)
	}

	communityIDs := make([]string, 0, len(grouped))
	for label := range grouped {
		communityIDs = append(communityIDs, label)
	}
	sort.Strings(communityIDs)

	out := make([]Community, 0, len(grouped))
	for _, label := range communityIDs {
		members := grouped[label]
		sort.Strings(members)
		out = append(out, Community{ID: label, Level: 0, Members: members})
	}
	return out
}

func buildAdjacency(entityIDs []string, edges []Edge) map[string]map[string]float64 {
	adj := make(map[string]map[string]float64, len(entityIDs))
	for _, id := range entityIDs {
		adj[id] = make(map[string]float64)
	}
	for _, e := range edges {
		if e.Type == EdgeContradicts {
			continue
		}
		if _, ok := adj[e.SourceID]; !ok {
			continue
		}
		if _, ok := adj[e.TargetID]; !ok {
			continue
		}
		adj[e.SourceID][e.TargetID] += float64(e.Strength)
		adj[e.TargetID][e.SourceID] += float64(e.Strength)
	}
	return adj
}

// labelPropagation assigns each node the most common label among its
// neighbors (weighted by edge strength), iterating in a seeded-shuffled
// order each round until labels stop changing or a round cap is hit.
func labelPropagation(entityIDs []string, adjacency map[string]map[string]float64, seed int64) map[string]string {
	labels := make(map[string]string, len(entityIDs))
	for _, id := range entityIDs {
		labels[id] = id
	}

	rng := rand.New(rand.NewSource(seed))
	order := append([]string(nil), entityIDs...)

	const maxRounds = 50
	for round := 0; round < maxRounds; round++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		changed := false
		for _, id := range order {
			best := bestNeighborLabel(id, adjacency, labels)
			if best != "" && best != labels[id] {
				labels[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return labels
}

func bestNeighborLabel(id string, adjacency map[string]map[string]float64, labels map[string]string) string {
	weightByLabel := make(map[string]float64)
	for neighbor, weight := range adjacency[id] {
		weightByLabel[labels[neighbor]] += weight
	}
	if len(weightByLabel) == 0 {
		return ""
	}

	candidateLabels := make([]string, 0, len(weightByLabel))
	for label := range weightByLabel {
		candidateLabels = append(candidateLabels, label)
	}
	sort.Strings(candidateLabels) // deterministic tie-break: lowest label wins

	best := candidateLabels[0]
	bestWeight := weightByLabel[best]
	for _, label := range candidateLabels[1:] {
		if weightByLabel[label] > bestWeight {
			best = label
			bestWeight = weightByLabel[label]
		}
	}
	return best
}

// greedyModularityMerge repeatedly merges the pair of communities with the
// highest positive modularity gain (scaled by resolution) until no merge
// improves modularity. Candidate pairs are visited in sorted order each
// round, so the result is deterministic given the label-propagation seed.
func greedyModularityMerge(entityIDs []string, adjacency map[string]map[string]float64, labels map[string]string, resolution float64) map[string]string {
	totalWeight := 0.0
	for _, neighbors := range adjacency {
		for _, w := range neighbors {
			totalWeight += w
		}
	}
	totalWeight /= 2 // each undirected edge counted from both endpoints
	if totalWeight == 0 {
		return labels
	}

	degree := make(map[string]float64, len(entityIDs))
	for _, id := range entityIDs {
		for _, w := range adjacency[id] {
			degree[id] += w
		}
	}

	for {
		communityMembers := make(map[string][]string)
		for _, id := range entityIDs {
			communityMembers[labels[id]] = append(communityMembers[labels[id]], id)
		}
		communityLabels := make([]string, 0, len(communityMembers))
		for label := range communityMembers {
			communityLabels = append(communityLabels, label)
		}
		sort.Strings(communityLabels)

		bestGain := 0.0
		var bestA, bestB string

		for i, a := range communityLabels {
			for _, b := range communityLabels[i+1:] {
				gain := modularityGain(communityMembers[a], communityMembers[b], adjacency, degree, totalWeight, resolution)
				if gain > bestGain {
					bestGain = gain
					bestA, bestB = a, b
				}
			}
		}

		if bestA == "" {
			break
		}
		for _, id := range communityMembers[bestB] {
			labels[id] = bestA
		}
	}
	return labels
}

// modularityGain estimates the change in modularity (per Newman's
// formulation, resolution-scaled) from merging communities a and b:
// ΔQ = (edge weight between a and b)/m − resolution·(deg(a)·deg(b))/(2m²).
func modularityGain(a, b []string, adjacency map[string]map[string]float64, degree map[string]float64, totalWeight, resolution float64) float64 {
	var crossWeight, degA, degB float64
	bSet := make(map[string]bool, len(b))
	for _, id := range b {
		bSet[id] = true
		degB += degree[id]
	}
	for _, id := range a {
		degA += degree[id]
		for neighbor, w := range adjacency[id] {
			if bSet[neighbor] {
				crossWeight += w
			}
		}
	}
	m := totalWeight
	return crossWeight/m - resolution*(degA*degB)/(2*m*m)
}
