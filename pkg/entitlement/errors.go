package entitlement

import "errors"

// Domain errors for entitlement operations. Denials are not errors:
// they are reported through Verdict reasons, never as error returns.
var (
	// Plan errors
	ErrPlanNotResolved          = errors.New("entitlement.errors.plan_not_resolved")
	ErrInvalidPlanConfiguration = errors.New("entitlement.errors.invalid_plan_configuration")

	// Collaborator errors
	ErrFailedToLoadPlans      = errors.New("entitlement.errors.failed_to_load_plans")
	ErrFailedToFetchUsage     = errors.New("entitlement.errors.failed_to_fetch_usage")
	ErrFailedToIncrementUsage = errors.New("entitlement.errors.failed_to_increment_usage")
	ErrInvalidIncrementAmount = errors.New("entitlement.errors.invalid_increment_amount")
	ErrNoAccountingClient     = errors.New("entitlement.errors.no_accounting_client")
)
