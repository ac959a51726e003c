package entitlement

import (
	"errors"
	"fmt"
)

// DefaultPlans returns the built-in seven-tier catalog. Storage limits are
// expressed in MB (50 MB on free, 100 GB on max).
func DefaultPlans() map[PlanID]Plan {
	return map[PlanID]Plan{
		PlanFree: {
			ID:     PlanFree,
			Name:   "Free",
			Public: true,
			Limits: map[Resource]int64{
				ResourceLessonPlans:    10,
				ResourceChildProfiles:  1,
				ResourceReports:        0,
				ResourceForms:          0,
				ResourceParentAccounts: 0,
				ResourceStorage:        50,
				ResourceMessages:       0,
				ResourceStaffAccounts:  1,
				ResourcePDFExports:     0,
			},
			Features: []Feature{FeatureBasicLessonGenerator},
		},
		PlanStarter: {
			ID:     PlanStarter,
			Name:   "Starter",
			Public: true,
			Limits: map[Resource]int64{
				ResourceLessonPlans:    25,
				ResourceChildProfiles:  5,
				ResourceReports:        10,
				ResourceForms:          10,
				ResourceParentAccounts: 2,
				ResourceStorage:        1024,
				ResourceMessages:       50,
				ResourceStaffAccounts:  1,
				ResourcePDFExports:     5,
			},
			Features: []Feature{FeatureLessonGenerator, FeatureBasicTracking, FeaturePDFExport},
		},
		PlanEducator: {
			ID:     PlanEducator,
			Name:   "Educator",
			Public: true,
			Limits: map[Resource]int64{
				ResourceLessonPlans:    100,
				ResourceChildProfiles:  20,
				ResourceReports:        50,
				ResourceForms:          25,
				ResourceParentAccounts: 5,
				ResourceStorage:        5120,
				ResourceMessages:       200,
				ResourceStaffAccounts:  1,
				ResourcePDFExports:     25,
			},
			Features: []Feature{
				FeatureAdvancedLessonGenerator,
				FeatureChildTracking,
				FeatureParentPortal,
				FeatureComplianceReports,
			},
		},
		PlanAILibrary: {
			ID:     PlanAILibrary,
			Name:   "AI Library",
			Public: true,
			Limits: map[Resource]int64{
				ResourceLessonPlans:    200,
				ResourceChildProfiles:  20,
				ResourceReports:        50,
				ResourceForms:          25,
				ResourceParentAccounts: 10,
				ResourceStorage:        10240,
				ResourceMessages:       250,
				ResourceStaffAccounts:  2,
				ResourcePDFExports:     50,
			},
			Features: []Feature{FeaturePremiumLibrary, FeatureAIAssessment, FeatureFrameworkAlignment},
		},
		PlanPremium: {
			ID:     PlanPremium,
			Name:   "Premium",
			Public: true,
			Limits: map[Resource]int64{
				ResourceLessonPlans:    Unlimited,
				ResourceChildProfiles:  100,
				ResourceReports:        Unlimited,
				ResourceForms:          100,
				ResourceParentAccounts: 20,
				ResourceStorage:        20480,
				ResourceMessages:       500,
				ResourceStaffAccounts:  3,
				ResourcePDFExports:     Unlimited,
			},
			Features: []Feature{FeatureUnlimitedLessons, FeatureAdvancedAnalytics, FeatureTeamCollaboration},
		},
		PlanPro: {
			ID:     PlanPro,
			Name:   "Pro",
			Public: true,
			Limits: map[Resource]int64{
				ResourceLessonPlans:    Unlimited,
				ResourceChildProfiles:  100,
				ResourceReports:        Unlimited,
				ResourceForms:          Unlimited,
				ResourceParentAccounts: 50,
				ResourceStorage:        51200,
				ResourceMessages:       Unlimited,
				ResourceStaffAccounts:  10,
				ResourcePDFExports:     Unlimited,
			},
			Features: []Feature{FeatureMultiSite, FeatureAdminDashboard, FeatureAdvancedCompliance},
		},
		PlanMax: {
			ID:     PlanMax,
			Name:   "Max",
			Public: true,
			Limits: map[Resource]int64{
				ResourceLessonPlans:    Unlimited,
				ResourceChildProfiles:  250,
				ResourceReports:        Unlimited,
				ResourceForms:          Unlimited,
				ResourceParentAccounts: 250,
				ResourceStorage:        102400,
				ResourceMessages:       Unlimited,
				ResourceStaffAccounts:  25,
				ResourcePDFExports:     Unlimited,
			},
			Features: []Feature{FeatureEnterprise, FeatureWhiteLabel, FeatureAPIAccess},
		},
	}
}

// upgradePath is the fixed "next tier" suggestion table. It deliberately
// funnels toward the next paid tier rather than computing the cheapest plan
// that raises a specific limit; use RaisesLimit when callers need to know
// whether the suggestion helps with a particular resource.
var upgradePath = map[PlanID]PlanID{
	PlanFree:      PlanStarter,
	PlanStarter:   PlanEducator,
	PlanEducator:  PlanPremium,
	PlanAILibrary: PlanPremium,
	PlanPremium:   PlanPro,
	PlanPro:       PlanMax,
}

// NextPlan returns the statically suggested upgrade tier for the given plan.
// Unknown plans and the top tier suggest the educator tier as a safe default.
func NextPlan(current PlanID) PlanID {
	if next, ok := upgradePath[current]; ok {
		return next
	}
	return PlanEducator
}

// RaisesLimit reports whether upgrading from current to target actually
// increases the cap for the given resource.
func RaisesLimit(plans map[PlanID]Plan, current, target PlanID, res Resource) bool {
	cur, okCur := plans[current]
	tgt, okTgt := plans[target]
	if !okCur || !okTgt {
		return false
	}
	comparison := ComparePlans(&cur, &tgt)
	if comparison == nil {
		return false
	}
	if _, ok := comparison.IncreasedLimits[res]; ok {
		return true
	}
	_, ok := comparison.NewResources[res]
	return ok
}

// validatePlans checks plan configurations for validity: every limit must be
// a non-negative cap or the Unlimited sentinel.
func validatePlans(plans map[PlanID]Plan) error {
	for planID, plan := range plans {
		for res, limit := range plan.Limits {
			if limit < Unlimited {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s has invalid limit for %s: %d", planID, res, limit))
			}
		}
	}
	return nil
}
