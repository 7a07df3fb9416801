package session

// completedCount resolves the authoritative completed count. Right after a
// restore the server-reported count is authoritative because the local set
// may be empty; any local complete or undo invalidates it, after which the
// size of the locally tracked set wins. This keeps a stale server count from
// being shown after an offline-queued local change.
type completedCount struct {
	serverConfirmed *int
	local           map[string]struct{}
}

// localTracked builds a count backed only by the local completed set.
func localTracked(local map[string]struct{}) completedCount {
	return completedCount{local: local}
}

// serverConfirmed builds a count that prefers the server-reported value until
// invalidated.
func serverConfirmedCount(n int, local map[string]struct{}) completedCount {
	return completedCount{serverConfirmed: &n, local: local}
}

// invalidate drops the server-confirmed value after a local mutation.
func (c *completedCount) invalidate() {
	c.serverConfirmed = nil
}

// resolve returns the authoritative completed count.
func (c completedCount) resolve() int {
	if c.serverConfirmed != nil {
		return *c.serverConfirmed
	}
	return len(c.local)
}
