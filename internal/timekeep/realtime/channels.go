package realtime

// tenantChannels is the membership of one tenant. Callers hold Notifier.mu.
type tenantChannels struct {
	all    map[string]*client
	admins map[string]*client
}

func newTenantChannels() *tenantChannels {
	return &tenantChannels{
		all:    make(map[string]*client),
		admins: make(map[string]*client),
	}
}

func (tc *tenantChannels) add(c *client) {
	tc.all[c.id] = c
	if c.admin {
		tc.admins[c.id] = c
	}
}

func (tc *tenantChannels) remove(id string) {
	delete(tc.all, id)
	delete(tc.admins, id)
}

func (tc *tenantChannels) empty() bool { return len(tc.all) == 0 }
