package entitlement

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source defines how plans are loaded into the enforcer.
type Source interface {
	Load(ctx context.Context) (map[PlanID]Plan, error)
}

// inMemSource implements Source using an in-memory plan map.
type inMemSource struct {
	mu    sync.RWMutex
	plans map[PlanID]Plan
}

// NewInMemSource returns an in-memory Source with a deep copy of the given plans.
func NewInMemSource(plans map[PlanID]Plan) Source {
	return &inMemSource{plans: clonePlans(plans)}
}

// Load returns a copy of all available plans from memory.
func (s *inMemSource) Load(ctx context.Context) (map[PlanID]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePlans(s.plans), nil
}

func clonePlans(plans map[PlanID]Plan) map[PlanID]Plan {
	out := make(map[PlanID]Plan, len(plans))
	for id, plan := range plans {
		out[id] = Plan{
			ID:          plan.ID,
			Name:        plan.Name,
			Description: plan.Description,
			Limits:      maps.Clone(plan.Limits),
			Features:    slices.Clone(plan.Features),
			Public:      plan.Public,
		}
	}
	return out
}

// yamlSource loads the plan catalog from a YAML file. The file maps plan IDs
// to plan definitions:
//
//	free:
//	  name: Free
//	  public: true
//	  limits:
//	    lesson_plans: 10
//	    storage: 50
//	  features:
//	    - basic-lesson-generator
type yamlSource struct {
	path string
}

// NewYAMLSource returns a Source that reads the plan catalog from path on
// every Load call, so a restart is not required to pick up edits.
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

type yamlPlan struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Limits      map[string]int64 `yaml:"limits"`
	Features    []string         `yaml:"features"`
	Public      bool             `yaml:"public"`
}

func (s *yamlSource) Load(ctx context.Context) (map[PlanID]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var decoded map[string]yamlPlan
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("parse %s: %w", s.path, err))
	}

	plans := make(map[PlanID]Plan, len(decoded))
	for id, yp := range decoded {
		plan := Plan{
			ID:          PlanID(id),
			Name:        yp.Name,
			Description: yp.Description,
			Limits:      make(map[Resource]int64, len(yp.Limits)),
			Features:    make([]Feature, 0, len(yp.Features)),
			Public:      yp.Public,
		}
		for res, limit := range yp.Limits {
			plan.Limits[Resource(res)] = limit
		}
		for _, f := range yp.Features {
			plan.Features = append(plan.Features, Feature(f))
		}
		plans[PlanID(id)] = plan
	}
	return plans, nil
}
