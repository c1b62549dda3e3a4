package service

// Notifier pushes best-effort signals to connected clients. Each call
// returns how many connections the signal was queued to; zero is normal.
type Notifier interface {
	NotifyTenant(tenantID, event string, data any) int
	NotifyAdmins(tenantID, event string, data any) int
	NotifyPrincipal(tenantID, principalID, event string, data any) int
}

// Realtime event names.
const (
	EventSessionState       = "session:state"
	EventSessionForceEnd    = "session:force_end"
	EventPrincipalSuspended = "principal:suspended"
)

type nopNotifier struct{}

func (nopNotifier) NotifyTenant(string, string, any) int            { return 0 }
func (nopNotifier) NotifyAdmins(string, string, any) int            { return 0 }
func (nopNotifier) NotifyPrincipal(string, string, string, any) int { return 0 }

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
