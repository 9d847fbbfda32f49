package auth

// Permission keys guarding engine operations.
const (
	PermCaseWrite       = "case.write"
	PermCaseAnonymize   = "case.anonymize"
	PermSeriousCause    = "case.serious_cause"
	PermStageRollback   = "case.stage_rollback"
	PermNotificationAck = "notification.ack"
	PermTriageWrite     = "triage.write"
	PermTriageConvert   = "triage.convert"
	PermDashboardView   = "dashboard.view"
)

// rolePermissions is the static grant table. Roles come from the token; the
// engine does not manage identity (that is the console's job).
var rolePermissions = map[string][]string{
	"admin": {
		PermCaseWrite, PermCaseAnonymize, PermSeriousCause, PermStageRollback,
		PermNotificationAck, PermTriageWrite, PermTriageConvert, PermDashboardView,
	},
	"case_manager": {
		PermCaseWrite, PermSeriousCause, PermStageRollback,
		PermNotificationAck, PermDashboardView,
	},
	"intake": {
		PermTriageWrite, PermTriageConvert, PermCaseWrite,
	},
	"viewer": {
		PermDashboardView,
	},
}

func roleGrants(role, perm string) bool {
	for _, granted := range rolePermissions[role] {
		if granted == perm {
			return true
		}
	}
	return false
}
