package pool

import (
	"github.com/rickgao/paperstream/internal/events"
)

// Subscribe adds id to channel. Both sides of the index change together.
func (p *Pool) Subscribe(id, channel string) error {
	p.mu.Lock()
	e, ok := p.conns[id]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownConnection
	}
	if _, already := e.channels[channel]; already {
		p.mu.Unlock()
		return nil
	}
	e.channels[channel] = struct{}{}
	addIndex(p.channels, channel, id)
	n := len(p.channels[channel])
	p.checkInvariants()
	p.mu.Unlock()

	p.bus.Publish(events.Event{
		Type:  events.ChannelSubscription,
		Topic: channel,
		Data:  events.ChannelChange{ConnID: id, Channel: channel, Subscribers: n},
	})
	return nil
}

// Unsubscribe removes id from channel. Not being subscribed is not an error.
func (p *Pool) Unsubscribe(id, channel string) error {
	p.mu.Lock()
	e, ok := p.conns[id]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownConnection
	}
	if _, subscribed := e.channels[channel]; !subscribed {
		p.mu.Unlock()
		return nil
	}
	delete(e.channels, channel)
	removeIndex(p.channels, channel, id)
	n := len(p.channels[channel])
	p.checkInvariants()
	p.mu.Unlock()

	p.bus.Publish(events.Event{
		Type:  events.ChannelUnsubscription,
		Topic: channel,
		Data:  events.ChannelChange{ConnID: id, Channel: channel, Subscribers: n},
	})
	return nil
}

// Subscribers returns a snapshot of the connection ids on channel.
func (p *Pool) Subscribers(channel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedKeys(p.channels[channel])
}

// Channels returns the channels id is subscribed to.
func (p *Pool) Channels(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.conns[id]; ok {
		return sortedKeys(e.channels)
	}
	return nil
}

// Broadcast sends data to every subscriber of channel and returns how many
// sends succeeded. Successful sends are recorded as outbound traffic.
func (p *Pool) Broadcast(channel string, data []byte) int {
	p.mu.Lock()
	set := p.channels[channel]
	targets := make([]Conn, 0, len(set))
	for id := range set {
		targets = append(targets, p.conns[id].conn)
	}
	p.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if err := c.Send(data); err != nil {
			p.logger.Debug("broadcast send failed", "conn_id", c.ID(), "channel", channel, "error", err)
			continue
		}
		p.RecordMessage(c.ID(), Outbound, len(data))
		sent++
	}
	return sent
}
