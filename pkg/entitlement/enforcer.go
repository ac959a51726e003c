package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
)

// AccountingClient talks to the remote accounting service that owns the
// authoritative usage counters.
type AccountingClient interface {
	// FetchUsage returns the caller's current usage snapshot.
	FetchUsage(ctx context.Context) (Snapshot, error)

	// Increment records consumption remotely and returns the authoritative
	// new total for the resource.
	Increment(ctx context.Context, res Resource, amount int64) (int64, error)
}

// UpgradePrompt is the structured payload handed to a PromptDispatcher when
// a check is denied for business reasons.
type UpgradePrompt struct {
	Feature       string `json:"feature"`
	Urgency       string `json:"urgency"`
	Source        string `json:"source"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	CurrentUsage  *int64 `json:"current_usage,omitempty"`
	Limit         *int64 `json:"limit,omitempty"`
	SuggestedPlan PlanID `json:"suggested_plan,omitempty"`
}

// PromptDispatcher receives upgrade prompts. Implementations own all
// presentation; dispatch is fire-and-forget with no return value. The
// Enforcer calls it on its own goroutine with a context detached from
// the denied check's cancellation, so implementations must be safe for
// concurrent use and bound their own delivery timeouts.
type PromptDispatcher interface {
	DispatchUpgradePrompt(ctx context.Context, prompt UpgradePrompt)
}

// Enforcer evaluates entitlement checks for a single authenticated session.
// It owns the usage snapshot: the snapshot has exactly one writer path
// (RefreshUsage and Increment) and is safe for concurrent readers.
type Enforcer struct {
	mu         sync.RWMutex
	plans      map[PlanID]Plan
	planID     PlanID
	usage      Snapshot // nil until the first successful fetch
	client     AccountingClient
	dispatcher PromptDispatcher
	log        *slog.Logger
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithPlan sets the session's resolved plan tier. Leave unset while the plan
// collaborator is still loading; usage fetches are deferred until SetPlan.
func WithPlan(id PlanID) Option {
	return func(e *Enforcer) { e.planID = id }
}

// WithDispatcher sets the upgrade prompt collaborator.
func WithDispatcher(d PromptDispatcher) Option {
	return func(e *Enforcer) { e.dispatcher = d }
}

// WithLogger sets the structured logger. A silent logger is used by default.
func WithLogger(log *slog.Logger) Option {
	return func(e *Enforcer) {
		if log != nil {
			e.log = log
		}
	}
}

// New creates an Enforcer from a plan source and an accounting client.
// Panics if src is nil to fail fast during initialization.
func New(ctx context.Context, src Source, client AccountingClient, opts ...Option) (*Enforcer, error) {
	if src == nil {
		panic("entitlement: Source is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if err := validatePlans(plans); err != nil {
		return nil, err
	}

	e := &Enforcer{
		plans:  plans,
		client: client,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SetPlan updates the session's resolved plan tier, e.g. after the plan
// collaborator finishes loading or a subscription change lands.
func (e *Enforcer) SetPlan(id PlanID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.planID = id
}

// Plan returns the plan the session is currently evaluated against.
// Unknown or unset tiers fall back to the free plan.
func (e *Enforcer) Plan() Plan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.planLocked()
}

func (e *Enforcer) planLocked() Plan {
	if plan, ok := e.plans[e.planID]; ok {
		return plan
	}
	return e.plans[PlanFree]
}

// RefreshUsage fetches the usage snapshot from the accounting service.
// A single attempt is made; on failure the prior snapshot is kept
// (stale-but-available) and the error is both logged and returned.
// The fetch is deferred with ErrPlanNotResolved until a plan tier is known.
func (e *Enforcer) RefreshUsage(ctx context.Context) error {
	e.mu.RLock()
	planID := e.planID
	e.mu.RUnlock()
	if planID == "" {
		return ErrPlanNotResolved
	}
	if e.client == nil {
		return ErrNoAccountingClient
	}

	snapshot, err := e.client.FetchUsage(ctx)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to fetch usage snapshot", "error", err)
		return errors.Join(ErrFailedToFetchUsage, err)
	}

	e.mu.Lock()
	e.usage = snapshot.Clone()
	e.mu.Unlock()
	return nil
}

// Loaded reports whether a usage snapshot is available.
func (e *Enforcer) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.usage != nil
}

// Usage returns a copy of the current snapshot, or nil if not yet loaded.
func (e *Enforcer) Usage() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.usage.Clone()
}

// Check decides whether consuming amount units of res is permitted under the
// session's plan and current usage. Pure and synchronous: no network calls,
// no mutation, identical inputs yield identical verdicts.
func (e *Enforcer) Check(res Resource, amount int64) Verdict {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.usage == nil {
		// Distinct from a quota denial: callers should retry after a
		// successful fetch, not show an upgrade prompt.
		return Verdict{Allowed: false, Reason: ReasonUsageNotLoaded}
	}

	plan := e.planLocked()
	limit := plan.Limit(res)
	used := e.usage[res]

	if limit == Unlimited {
		return allowVerdict()
	}

	if limit == 0 {
		return e.denyLocked(res, ReasonFeatureNotAvailable, used, limit)
	}

	if used+amount > limit {
		return e.denyLocked(res, ReasonLimitExceeded, used, limit)
	}

	return allowVerdictWithUsage(used, limit)
}

func (e *Enforcer) denyLocked(res Resource, reason string, used, limit int64) Verdict {
	return Verdict{
		Allowed:        false,
		Reason:         reason,
		UpgradeMessage: UpgradeMessage(e.plans, e.planID, res),
		SuggestedPlan:  NextPlan(e.planID),
		CurrentUsage:   &used,
		Limit:          &limit,
	}
}

// CheckAndEnforce wraps Check and dispatches an upgrade prompt on a business
// denial. It never increments usage: recording consumption stays an explicit
// caller step so counters only advance after the gated action succeeds.
// Data-not-loaded denials return false without prompting.
func (e *Enforcer) CheckAndEnforce(ctx context.Context, res Resource, amount int64, featureLabel string) bool {
	verdict := e.Check(res, amount)
	if verdict.Allowed {
		return true
	}

	if !verdict.Transient() && e.dispatcher != nil {
		feature := featureLabel
		if feature == "" {
			feature = string(res)
		}
		message := verdict.UpgradeMessage
		if message == "" {
			message = "You've reached your " + DisplayName(res) + " limit."
		}
		prompt := UpgradePrompt{
			Feature:       feature,
			Urgency:       "high",
			Source:        "usage-limit",
			Title:         PromptTitle(res),
			Message:       message,
			CurrentUsage:  verdict.CurrentUsage,
			Limit:         verdict.Limit,
			SuggestedPlan: verdict.SuggestedPlan,
		}
		// Fire-and-forget: the denial is already decided, so the caller
		// never waits on prompt delivery. The context is detached from
		// cancellation so an aborted request cannot kill an in-flight
		// dispatch, while request-scoped values stay visible.
		go e.dispatcher.DispatchUpgradePrompt(context.WithoutCancel(ctx), prompt)
	}

	return false
}

// Increment records consumption with the accounting service, then overwrites
// the local counter with the authoritative total the service returned. On any
// failure the local snapshot is left untouched.
func (e *Enforcer) Increment(ctx context.Context, res Resource, amount int64) error {
	if amount <= 0 {
		return ErrInvalidIncrementAmount
	}
	if e.client == nil {
		return ErrNoAccountingClient
	}

	total, err := e.client.Increment(ctx, res, amount)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to increment usage", "resource", res, "amount", amount, "error", err)
		return errors.Join(ErrFailedToIncrementUsage, err)
	}

	e.mu.Lock()
	if e.usage != nil {
		e.usage[res] = total
	}
	e.mu.Unlock()
	return nil
}

// UsagePercentage returns consumption as a percentage of the limit, clamped
// to [0,100]. Unlimited resources always report 0; a zero limit reports 100.
// Returns 0 until the snapshot is loaded.
func (e *Enforcer) UsagePercentage(res Resource) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.usage == nil {
		return 0
	}
	return usagePercentage(e.usage[res], e.planLocked().Limit(res))
}

func usagePercentage(used, limit int64) float64 {
	if limit == Unlimited {
		return 0
	}
	if limit == 0 {
		return 100
	}
	return math.Min(float64(used)/float64(limit)*100, 100)
}

// IsNearLimit reports whether usage has reached 80% of the limit.
func (e *Enforcer) IsNearLimit(res Resource) bool {
	return e.UsagePercentage(res) >= 80
}

// HasExceededLimit reports whether usage has reached the limit.
func (e *Enforcer) HasExceededLimit(res Resource) bool {
	return e.UsagePercentage(res) >= 100
}

// UsageWithLimits returns every metered resource with usage, limit, and
// derived display fields. Returns nil until the snapshot is loaded.
func (e *Enforcer) UsageWithLimits() map[Resource]ResourceUsage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.usage == nil {
		return nil
	}

	plan := e.planLocked()
	out := make(map[Resource]ResourceUsage, len(e.usage))
	for res, used := range e.usage {
		limit := plan.Limit(res)
		pct := usagePercentage(used, limit)

		remaining := RemainingUnlimited
		if limit != Unlimited {
			remaining = Remaining(max(0, limit-used))
		}

		out[res] = ResourceUsage{
			Used:       used,
			Limit:      limit,
			Percentage: pct,
			NearLimit:  pct >= 80,
			Exceeded:   pct >= 100,
			Remaining:  remaining,
		}
	}
	return out
}

// HasFeature reports whether the session's plan unlocks the capability flag.
func (e *Enforcer) HasFeature(f Feature) bool {
	return e.Plan().HasFeature(f)
}

// CheckFeature gates a qualitative capability. Denials suggest the first tier
// along the upgrade path that carries the feature, falling back to the static
// next tier when no tier on the path does.
func (e *Enforcer) CheckFeature(f Feature) Verdict {
	e.mu.RLock()
	defer e.mu.RUnlock()

	plan := e.planLocked()
	if plan.HasFeature(f) {
		return allowVerdict()
	}

	suggested := NextPlan(e.planID)
	for id := e.planID; ; {
		next, ok := upgradePath[id]
		if !ok {
			break
		}
		if candidate, exists := e.plans[next]; exists && candidate.HasFeature(f) {
			suggested = next
			break
		}
		id = next
	}

	message := "This feature requires a higher plan. Please upgrade to continue."
	if suggestedPlan, ok := e.plans[suggested]; ok {
		message = "Upgrade to " + suggestedPlan.Name + " to unlock this feature."
	}

	return Verdict{
		Allowed:        false,
		Reason:         ReasonFeatureNotAvailable,
		UpgradeMessage: message,
		SuggestedPlan:  suggested,
	}
}

// UpgradeRaisesLimit reports whether the statically suggested upgrade tier
// actually raises the cap for the given resource. The suggestion table
// funnels toward the next paid tier regardless, so UI code can use this to
// qualify the recommendation.
func (e *Enforcer) UpgradeRaisesLimit(res Resource) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return RaisesLimit(e.plans, e.planID, NextPlan(e.planID), res)
}
