package entitlement

import "fmt"

// resourceNames holds the human-readable forms used in upgrade prompts.
type resourceName struct {
	Singular string
	Plural   string
}

var resourceNames = map[Resource]resourceName{
	ResourceLessonPlans:    {Singular: "lesson plan", Plural: "lesson plans"},
	ResourceChildProfiles:  {Singular: "child profile", Plural: "child profiles"},
	ResourceReports:        {Singular: "report", Plural: "reports"},
	ResourceForms:          {Singular: "form", Plural: "forms"},
	ResourceParentAccounts: {Singular: "parent account", Plural: "parent accounts"},
	ResourceStorage:        {Singular: "storage", Plural: "storage"},
	ResourceMessages:       {Singular: "message", Plural: "messages"},
	ResourceStaffAccounts:  {Singular: "staff account", Plural: "staff accounts"},
	ResourcePDFExports:     {Singular: "PDF export", Plural: "PDF exports"},
}

// DisplayName returns the human-readable name of a resource.
// Unknown resources fall back to their raw identifier.
func DisplayName(res Resource) string {
	if n, ok := resourceNames[res]; ok {
		return n.Singular
	}
	return string(res)
}

// formatQuantity renders a limit for message text. Storage limits are held in
// MB but displayed in the largest whole unit.
func formatQuantity(res Resource, limit int64) string {
	if res == ResourceStorage {
		return formatStorage(limit) + " of storage"
	}
	name := resourceNames[res]
	if name.Plural == "" {
		name = resourceName{Singular: string(res), Plural: string(res)}
	}
	if limit == Unlimited {
		return "unlimited " + name.Plural
	}
	if limit == 1 {
		return fmt.Sprintf("1 %s", name.Singular)
	}
	return fmt.Sprintf("%d %s", limit, name.Plural)
}

func formatStorage(mb int64) string {
	if mb == Unlimited {
		return "unlimited storage"
	}
	if mb >= 1024 && mb%1024 == 0 {
		return fmt.Sprintf("%d GB", mb/1024)
	}
	return fmt.Sprintf("%d MB", mb)
}

// UpgradeMessage builds the denial message for a resource from catalog data
// alone. Both the current and the suggested tier's limits come from the plan
// map, so message numbers can never drift from the actual quotas.
func UpgradeMessage(plans map[PlanID]Plan, current PlanID, res Resource) string {
	plan, ok := plans[current]
	if !ok {
		plan = plans[PlanFree]
	}
	next := NextPlan(current)
	nextPlan, ok := plans[next]
	if !ok {
		return "This feature requires a higher plan. Please upgrade to continue."
	}

	limit := plan.Limit(res)
	nextQuantity := formatQuantity(res, nextPlan.Limit(res))

	if limit == 0 {
		// Feature entirely absent from the tier.
		name := resourceNames[res].Plural
		if name == "" {
			name = string(res)
		}
		return fmt.Sprintf("%s require a higher plan. Upgrade to %s for %s.",
			titleCase(name), nextPlan.Name, nextQuantity)
	}

	if res == ResourceStorage {
		return fmt.Sprintf("You've reached your %s storage limit. Upgrade to %s for %s.",
			formatStorage(limit), nextPlan.Name, nextQuantity)
	}

	name := resourceNames[res].Singular
	if name == "" {
		name = string(res)
	}
	return fmt.Sprintf("You've reached your %d %s limit. Upgrade to %s for %s.",
		limit, name, nextPlan.Name, nextQuantity)
}

// PromptTitle builds the modal/notification title for a denied resource.
func PromptTitle(res Resource) string {
	name := resourceNames[res].Singular
	if name == "" {
		name = string(res)
	}
	return titleCase(name) + " Limit Reached"
}

// titleCase uppercases the first letter of each space-separated word,
// leaving already-capitalized words (like "PDF") untouched.
func titleCase(s string) string {
	out := []byte(s)
	upper := true
	for i, c := range out {
		if upper && c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
		}
		upper = c == ' '
	}
	return string(out)
}
