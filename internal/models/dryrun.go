package models

// DryRunReport lists what Nix would have to do to realize a set of units,
// without doing it.
type DryRunReport struct {
	// ToBuild are derivations that would be built locally.
	ToBuild []BuildUnit `json:"to_build"`
	// ToFetch are output paths that would be substituted from a binary cache.
	ToFetch []ArtifactLocation `json:"to_fetch"`
}

// PendingUnits returns the units among units that still need work: those
// listed to build, and the owners of the outputs listed to fetch. Fetch paths
// no unit owns are returned separately and never as units.
func (r *DryRunReport) PendingUnits(units []BuildUnit) (pending []BuildUnit, unowned []ArtifactLocation) {
	known := make(map[BuildUnit]bool, len(units))
	for _, u := range units {
		known[u] = true
	}

	seen := make(map[BuildUnit]bool)
	add := func(u BuildUnit) {
		if !seen[u] {
			seen[u] = true
			pending = append(pending, u)
		}
	}

	for _, u := range r.ToBuild {
		if known[u] {
			add(u)
		}
	}
	for _, p := range r.ToFetch {
		owner, ok := p.Owner(units)
		if !ok {
			unowned = append(unowned, p)
			continue
		}
		add(owner)
	}
	return pending, unowned
}
