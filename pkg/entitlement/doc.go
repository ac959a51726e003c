// Package entitlement provides plan-based quota tracking and feature gating
// for tiered subscription products.
//
// It separates "may I do this?" from "I did it": Check and CheckAndEnforce
// are pure decisions over an in-memory usage snapshot, while Increment is the
// explicit step that records consumption after the gated action succeeded.
// The authoritative counters live in a remote accounting service reached
// through the AccountingClient interface; the local snapshot is advisory,
// display-oriented state refreshed on demand.
//
// Key concepts:
//
//   - Plan: a subscription tier with per-resource limits and feature flags
//   - Resource: a metered dimension like lesson plans or storage (MB)
//   - Verdict: the allow/deny result of a check, enriched for UI display
//   - Unlimited (-1): sentinel for resources without a cap
//
// Basic usage:
//
//	source := entitlement.NewInMemSource(entitlement.DefaultPlans())
//	enforcer, err := entitlement.New(ctx, source, client,
//	    entitlement.WithPlan(entitlement.PlanStarter),
//	    entitlement.WithDispatcher(prompt.NewLogDispatcher(log)),
//	)
//	if err != nil {
//	    // handle error
//	}
//
//	if err := enforcer.RefreshUsage(ctx); err != nil {
//	    // stale or absent snapshot; checks deny with ReasonUsageNotLoaded
//	}
//
//	if enforcer.CheckAndEnforce(ctx, entitlement.ResourceLessonPlans, 1, "Lesson Builder") {
//	    // perform the gated action, then record it:
//	    _ = enforcer.Increment(ctx, entitlement.ResourceLessonPlans, 1)
//	}
package entitlement
