// Package entitlements resolves what a workspace's plan allows.
//
// A plan is derived from the workspace's subscription row: the tier picks a
// catalog entry of limits and features, and nullable override columns on the
// row replace individual values. Workspaces without a row are FREE. Canceled
// and incomplete subscriptions fall back to FREE.
//
// Usage is counted from live tenant rows on every GetWorkspacePlan call:
//
//	seats        memberships in the workspace
//	skus         rows in skus
//	competitors  rows in competitors
//	imports      csv_imports created since the first of the month (UTC)
//
// The resolver enforces nothing. Callers decide:
//
//	plan, err := resolver.GetWorkspacePlan(ctx, workspaceID)
//	if denial := plan.Check(entitlements.FeatureCSVImport, entitlements.ResourceImports); denial != nil {
//		return denial.Err()
//	}
package entitlements
