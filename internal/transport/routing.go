package transport

import "sort"

// resolveProviders returns the ordered list of providers to try, given an
// explicit priority list and a fixed usage-count snapshot (recent
// successful-send counts per provider name since a lookback window).
//
// Adapted from oarkflow-email's resolveProviders/sortProvidersByUsage: the
// teacher reorders an EmailConfig's ProviderPriority by a recency-weighted
// usage score pulled live from its JSONL send log on every call. This
// generalizes that down to a pure function of (priority, usage): the usage
// snapshot is read once per Send rather than recomputed mid-sort, so the
// ordering is a deterministic, reproducible function of its inputs (the
// property the spec's §8 law 9 asks for) rather than a moving target.
//
// sort.SliceStable keeps providers with equal usage in their original
// priority order, least-used first.
func resolveProviders(priority []string, usage map[string]int) []string {
	if len(priority) == 0 {
		return nil
	}
	ordered := append([]string(nil), priority...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return usage[ordered[i]] < usage[ordered[j]]
	})
	return ordered
}

// preferProvider moves name to the front of order, preserving the
// relative order of everything else, so a batch-planned provider is
// tried first without discarding the usage-based fallback chain.
func preferProvider(order []string, name string) []string {
	out := make([]string, 0, len(order))
	found := false
	for _, p := range order {
		if p == name {
			found = true
			continue
		}
		out = append(out, p)
	}
	if !found {
		return order
	}
	return append([]string{name}, out...)
}
