package entitlement

// Denial reasons carried on a Verdict. ReasonUsageNotLoaded is transient
// ("retry after load"); the other two are business denials that warrant an
// upgrade prompt.
const (
	ReasonUsageNotLoaded      = "usage data not loaded"
	ReasonFeatureNotAvailable = "feature not available in current plan"
	ReasonLimitExceeded       = "usage limit exceeded"
)

// Verdict is the transient result of an entitlement check. It is produced
// fresh per check and never persisted.
type Verdict struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	UpgradeMessage string `json:"upgrade_message,omitempty"`
	SuggestedPlan  PlanID `json:"suggested_plan,omitempty"`
	CurrentUsage   *int64 `json:"current_usage,omitempty"`
	Limit          *int64 `json:"limit,omitempty"`
}

// Transient reports whether the denial is a data-not-ready condition rather
// than a quota or feature denial. Callers should retry after a successful
// usage fetch instead of prompting an upgrade.
func (v Verdict) Transient() bool {
	return !v.Allowed && v.Reason == ReasonUsageNotLoaded
}

func allowVerdict() Verdict {
	return Verdict{Allowed: true}
}

func allowVerdictWithUsage(used, limit int64) Verdict {
	return Verdict{Allowed: true, CurrentUsage: &used, Limit: &limit}
}
