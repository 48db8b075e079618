package rbac

// Action names a protected capability of the console.
type Action string

const (
	ActionViewDashboard      Action = "VIEW_DASHBOARD"
	ActionViewAlerts         Action = "VIEW_ALERTS"
	ActionExportAlerts       Action = "EXPORT_ALERTS"
	ActionEscalateAlerts     Action = "ESCALATE_ALERTS"
	ActionUploadTransactions Action = "UPLOAD_TRANSACTIONS"
	ActionCreateUser         Action = "CREATE_USER"
	ActionManageUsers        Action = "MANAGE_USERS"
	ActionViewUsers          Action = "VIEW_USERS"
	ActionGenerateReport     Action = "GENERATE_REPORT"
	ActionSystemSettings     Action = "SYSTEM_SETTINGS"
	ActionViewRiskAssessment Action = "VIEW_RISK_ASSESSMENT"
)

func (a Action) String() string {
	return string(a)
}
