package router

import "sort"

// renormalize min-max scales each layer's scores independently into
// [0,1] so scores from heterogeneous stores become comparable before
// merging. A layer with a single item, or where all items share the same
// raw score, normalizes to 1 so it isn't arbitrarily zeroed out by min-max
// degenerating.
func renormalize(items []Item) []Item {
	byLayer := make(map[Layer][]int)
	for i, it := range items {
		byLayer[it.Layer] = append(byLayer[it.Layer], i)
	}

	out := make([]Item, len(items))
	copy(out, items)

	for _, idxs := range byLayer {
		min, max := out[idxs[0]].Score, out[idxs[0]].Score
		for _, i := range idxs {
			if out[i].Score < min {
				min = out[i].Score
			}
			if out[i].Score > max {
				max = out[i].Score
			}
		}
		span := max - min
		for _, i := range idxs {
			if span <= 0 {
				out[i].Score = 1
				continue
			}
			out[i].Score = (out[i].Score - min) / span
		}
	}
	return out
}

// mergeSort orders items by normalized score descending, ties broken by
// layer priority, then by id ascending as a final deterministic tiebreak,
// so a fixed input and store contents always produce the same ordering.
func mergeSort(items []Item, priority Priority) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ri, rj := priority.rank(out[i].Layer), priority.rank(out[j].Layer)
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
