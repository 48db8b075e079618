// Package nav builds the console's role-filtered navigation.
package nav

import (
	"github.com/gowool/aml-rbac"
)

// Entry is a navigation candidate. An entry without an action is structural
// and always shown.
type Entry struct {
	Label  string
	Path   string
	Action rbac.Action
}

// Filter keeps the entries role may access, in declaration order.
func Filter(checker rbac.AuthorizationChecker, role rbac.Role, entries []Entry) []Entry {
	visible := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Action == "" || checker.CanAccess(role.String(), entry.Action) {
			visible = append(visible, entry)
		}
	}
	return visible
}

// Menu declares the console sidebar for role. The dashboard entry points at
// the role's own dashboard.
func Menu(role rbac.Role) []Entry {
	return []Entry{
		{Label: "Dashboard", Path: role.DashboardPath(), Action: rbac.ActionViewDashboard},
		{Label: "Transaction Ingestion", Path: "/ingest", Action: rbac.ActionUploadTransactions},
		{Label: "Alerts", Path: "/alerts", Action: rbac.ActionViewAlerts},
		{Label: "Risk Assessment", Path: "/risk-assessment", Action: rbac.ActionViewRiskAssessment},
		{Label: "Users", Path: "/users", Action: rbac.ActionViewUsers},
		{Label: "Reports", Path: "/reports", Action: rbac.ActionGenerateReport},
		{Label: "Settings", Path: "/settings", Action: rbac.ActionSystemSettings},
	}
}

// Sidebar is Filter applied to Menu.
func Sidebar(checker rbac.AuthorizationChecker, role rbac.Role) []Entry {
	return Filter(checker, role, Menu(role))
}
