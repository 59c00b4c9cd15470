package query

import (
	"sort"

	"lead_viewer/dataset"
)

// Facets lists the distinct selectable values of a dataset.
type Facets struct {
	Sources  []string `json:"sources"`
	Statuses []string `json:"statuses"`
	Tags     []string `json:"tags"`
}

// CollectFacets gathers the distinct non-empty sources, statuses and tags
// of ds, each sorted ascending.
func CollectFacets(ds dataset.Dataset) Facets {
	sources := make(map[string]struct{})
	statuses := make(map[string]struct{})
	tags := make(map[string]struct{})
	for _, rec := range ds.Records {
		if v := rec.Get(ColumnSource); v != "" {
			sources[v] = struct{}{}
		}
		if v := rec.Get(ColumnStatus); v != "" {
			statuses[v] = struct{}{}
		}
		if raw := rec.Get(ColumnTags); raw != "" {
			for _, tag := range SplitTags(raw) {
				if tag != "" {
					tags[tag] = struct{}{}
				}
			}
		}
	}
	return Facets{
		Sources:  sortedKeys(sources),
		Statuses: sortedKeys(statuses),
		Tags:     sortedKeys(tags),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
