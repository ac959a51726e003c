package entitlement

import (
	"encoding/json"
	"strconv"
)

// Resource represents a metered usage dimension.
type Resource string

// Metered resources. Storage is measured in MB so that every limit stays an
// integer; all other resources count whole items.
const (
	ResourceLessonPlans    Resource = "lesson_plans"
	ResourceChildProfiles  Resource = "child_profiles"
	ResourceReports        Resource = "reports"
	ResourceForms          Resource = "forms"
	ResourceParentAccounts Resource = "parent_accounts"
	ResourceStorage        Resource = "storage" // MB
	ResourceMessages       Resource = "messages"
	ResourceStaffAccounts  Resource = "staff_accounts"
	ResourcePDFExports     Resource = "pdf_exports"
)

// Resources lists every metered dimension in catalog order.
func Resources() []Resource {
	return []Resource{
		ResourceLessonPlans,
		ResourceChildProfiles,
		ResourceReports,
		ResourceForms,
		ResourceParentAccounts,
		ResourceStorage,
		ResourceMessages,
		ResourceStaffAccounts,
		ResourcePDFExports,
	}
}

const (
	// Unlimited represents a resource with no cap (-1 chosen for SQL compatibility).
	Unlimited int64 = -1
)

// PlanID identifies a subscription tier.
type PlanID string

const (
	PlanFree      PlanID = "free"
	PlanStarter   PlanID = "starter"
	PlanEducator  PlanID = "educator"
	PlanAILibrary PlanID = "ai_library"
	PlanPremium   PlanID = "premium"
	PlanPro       PlanID = "pro"
	PlanMax       PlanID = "max"
)

// Feature is a qualitative capability flag unlocked by a plan,
// independent of any numeric quota.
type Feature string

const (
	FeatureBasicLessonGenerator    Feature = "basic-lesson-generator"
	FeatureLessonGenerator         Feature = "lesson-generator"
	FeatureBasicTracking           Feature = "basic-tracking"
	FeaturePDFExport               Feature = "pdf-export"
	FeatureAdvancedLessonGenerator Feature = "advanced-lesson-generator"
	FeatureChildTracking           Feature = "child-tracking"
	FeatureParentPortal            Feature = "parent-portal"
	FeatureComplianceReports       Feature = "compliance-reports"
	FeaturePremiumLibrary          Feature = "premium-library"
	FeatureAIAssessment            Feature = "ai-assessment"
	FeatureFrameworkAlignment      Feature = "framework-alignment"
	FeatureUnlimitedLessons        Feature = "unlimited-lessons"
	FeatureAdvancedAnalytics       Feature = "advanced-analytics"
	FeatureTeamCollaboration       Feature = "team-collaboration"
	FeatureMultiSite               Feature = "multi-site"
	FeatureAdminDashboard          Feature = "admin-dashboard"
	FeatureAdvancedCompliance      Feature = "advanced-compliance"
	FeatureEnterprise              Feature = "enterprise-features"
	FeatureWhiteLabel              Feature = "white-label"
	FeatureAPIAccess               Feature = "api-access"
)

// Snapshot holds per-user usage counters, one entry per metered resource.
// It is owned by the session that fetched it; counters are never negative.
type Snapshot map[Resource]int64

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for res, used := range s {
		out[res] = used
	}
	return out
}

// Remaining is the capacity left for a resource. It marshals to the JSON
// string "unlimited" when the limit carries the Unlimited sentinel.
type Remaining int64

// RemainingUnlimited marks a resource without a cap.
const RemainingUnlimited Remaining = Remaining(Unlimited)

func (r Remaining) MarshalJSON() ([]byte, error) {
	if r == RemainingUnlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(int64(r))
}

func (r *Remaining) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "unlimited" {
			*r = RemainingUnlimited
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*r = Remaining(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = Remaining(n)
	return nil
}

// String implements fmt.Stringer for display contexts.
func (r Remaining) String() string {
	if r == RemainingUnlimited {
		return "unlimited"
	}
	return strconv.FormatInt(int64(r), 10)
}

// ResourceUsage describes one resource for UI display: current consumption
// against the plan limit with derived warning flags.
type ResourceUsage struct {
	Used       int64     `json:"used"`
	Limit      int64     `json:"limit"`
	Percentage float64   `json:"percentage"`
	NearLimit  bool      `json:"is_near_limit"`
	Exceeded   bool      `json:"has_exceeded"`
	Remaining  Remaining `json:"remaining"`
}
