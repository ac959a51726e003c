package entitlement

import "slices"

// Plan describes a subscription tier and its resource/feature constraints.
type Plan struct {
	ID          PlanID
	Name        string
	Description string
	Limits      map[Resource]int64 // -1 represents unlimited
	Features    []Feature
	Public      bool // available for self-service signup
}

// HasFeature reports whether the plan unlocks the given capability flag.
func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// Limit returns the cap for a resource. Resources absent from the plan map
// are treated as entirely unavailable (limit 0).
func (p Plan) Limit(res Resource) int64 {
	limit, ok := p.Limits[res]
	if !ok {
		return 0
	}
	return limit
}

// PlanComparison contains the differences between two plans.
// Used to explain upgrades and to verify a suggested tier actually
// raises a specific limit.
type PlanComparison struct {
	NewFeatures      []Feature
	LostFeatures     []Feature
	IncreasedLimits  map[Resource]ResourceChange
	DecreasedLimits  map[Resource]ResourceChange
	NewResources     map[Resource]int64
	RemovedResources map[Resource]int64
}

// ResourceChange represents a change in resource limit.
type ResourceChange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// HasResourceDecreases returns true if any resources have decreased limits.
func (c *PlanComparison) HasResourceDecreases() bool {
	return len(c.DecreasedLimits) > 0 || len(c.RemovedResources) > 0
}

// ComparePlans returns the differences between current and target plans.
func ComparePlans(current, target *Plan) *PlanComparison {
	if current == nil || target == nil {
		return nil
	}

	comparison := &PlanComparison{
		NewFeatures:      make([]Feature, 0),
		LostFeatures:     make([]Feature, 0),
		IncreasedLimits:  make(map[Resource]ResourceChange),
		DecreasedLimits:  make(map[Resource]ResourceChange),
		NewResources:     make(map[Resource]int64),
		RemovedResources: make(map[Resource]int64),
	}

	for _, feature := range target.Features {
		if !slices.Contains(current.Features, feature) {
			comparison.NewFeatures = append(comparison.NewFeatures, feature)
		}
	}

	for _, feature := range current.Features {
		if !slices.Contains(target.Features, feature) {
			comparison.LostFeatures = append(comparison.LostFeatures, feature)
		}
	}

	for resource, targetLimit := range target.Limits {
		currentLimit, exists := current.Limits[resource]
		if !exists {
			comparison.NewResources[resource] = targetLimit
			continue
		}

		if targetLimit != currentLimit {
			change := ResourceChange{From: currentLimit, To: targetLimit}

			// Unlimited-to-limited counts as a decrease so callers never
			// lose unlimited access by accident.
			if currentLimit == Unlimited {
				comparison.DecreasedLimits[resource] = change
			} else if targetLimit == Unlimited {
				comparison.IncreasedLimits[resource] = change
			} else if targetLimit > currentLimit {
				comparison.IncreasedLimits[resource] = change
			} else {
				comparison.DecreasedLimits[resource] = change
			}
		}
	}

	for resource, currentLimit := range current.Limits {
		if _, exists := target.Limits[resource]; !exists {
			comparison.RemovedResources[resource] = currentLimit
		}
	}

	return comparison
}
