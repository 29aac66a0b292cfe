package pool

import "fmt"

// Verify checks that the main table and every index agree. A non-nil error
// means a bookkeeping bug.
func (p *Pool) Verify() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifyLocked()
}

// checkInvariants panics on divergence in debug builds. Must hold p.mu.
func (p *Pool) checkInvariants() {
	if !debugInvariants {
		return
	}
	if err := p.verifyLocked(); err != nil {
		panic("pool: " + err.Error())
	}
}

func (p *Pool) verifyLocked() error {
	if len(p.conns) > p.cfg.MaxConnections {
		return fmt.Errorf("%d connections exceed max %d", len(p.conns), p.cfg.MaxConnections)
	}

	for id, e := range p.conns {
		if e.id != id {
			return fmt.Errorf("connection %s stored under %s", e.id, id)
		}
		if e.userID != "" {
			if _, ok := p.byUser[e.userID][id]; !ok {
				return fmt.Errorf("connection %s missing from user index %s", id, e.userID)
			}
		}
		if _, ok := p.byIP[e.ip][id]; !ok {
			return fmt.Errorf("connection %s missing from ip index %s", id, e.ip)
		}
		for ch := range e.channels {
			if _, ok := p.channels[ch][id]; !ok {
				return fmt.Errorf("connection %s missing from channel index %s", id, ch)
			}
		}
	}

	if err := p.verifyIndex("channel", p.channels, func(e *entry, key string) bool {
		_, ok := e.channels[key]
		return ok
	}, 0); err != nil {
		return err
	}
	if err := p.verifyIndex("user", p.byUser, func(e *entry, key string) bool {
		return e.userID == key
	}, p.cfg.MaxConnectionsPerUser); err != nil {
		return err
	}
	return p.verifyIndex("ip", p.byIP, func(e *entry, key string) bool {
		return e.ip == key
	}, p.cfg.MaxConnectionsPerIP)
}

// verifyIndex checks that every id under every key is a live connection that
// agrees it belongs there. limit 0 means uncapped.
func (p *Pool) verifyIndex(name string, idx map[string]map[string]struct{}, belongs func(*entry, string) bool, limit int) error {
	for key, set := range idx {
		if limit > 0 && len(set) > limit {
			return fmt.Errorf("%s index %s has %d connections, max %d", name, key, len(set), limit)
		}
		for id := range set {
			e, ok := p.conns[id]
			if !ok {
				return fmt.Errorf("%s index %s holds unknown connection %s", name, key, id)
			}
			if !belongs(e, key) {
				return fmt.Errorf("%s index %s holds connection %s that does not belong", name, key, id)
			}
		}
	}
	return nil
}
