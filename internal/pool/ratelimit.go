package pool

import "time"

// CheckRateLimit reports whether id may send another message: the number of
// inbound messages recorded within RateLimitWindow must be below RateLimitMax.
// Unknown connections are always limited.
func (p *Pool) CheckRateLimit(id string) bool {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.conns[id]
	if !ok {
		return false
	}
	e.window = pruneWindow(e.window, now.Add(-p.cfg.RateLimitWindow))
	return len(e.window) < p.cfg.RateLimitMax
}

// RecordMessage updates traffic counters for id. Inbound messages also count
// toward the rate window and refresh lastActivity, so callers record only
// messages they actually processed.
func (p *Pool) RecordMessage(id string, dir Direction, bytes int) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.conns[id]
	if !ok {
		return
	}
	switch dir {
	case Inbound:
		e.messagesReceived++
		e.bytesReceived += int64(bytes)
		e.lastActivity = now
		e.window = append(e.window, now)
	case Outbound:
		e.messagesSent++
		e.bytesSent += int64(bytes)
	}
	p.messageCount++
}

// pruneWindow drops timestamps at or before cutoff. The window is sorted.
func pruneWindow(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	if i == len(window) {
		return window[:0]
	}
	return append(window[:0], window[i:]...)
}
