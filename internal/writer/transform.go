package writer

import (
	"encoding/json"
	"time"

	"github.com/rickgao/paperstream/internal/events"
)

// detail flattens an event payload into a JSON-friendly map. Errors become
// strings and durations become milliseconds.
func detail(ev events.Event) map[string]any {
	switch d := ev.Data.(type) {
	case events.StreamStatus:
		m := map[string]any{"attempt": d.Attempt, "code": d.Code}
		if d.Delay > 0 {
			m["delay_ms"] = millis(d.Delay)
		}
		if d.Err != nil {
			m["error"] = d.Err.Error()
		}
		return m

	case events.ParseFailure:
		m := map[string]any{"kind": d.Kind, "field": d.Field}
		if d.Err != nil {
			m["error"] = d.Err.Error()
		}
		return m

	case events.Staleness:
		return map[string]any{
			"age_ms":       millis(d.Age),
			"threshold_ms": millis(d.Threshold),
			"last_data_at": d.LastDataAt,
		}

	case events.HealthReport:
		return map[string]any{
			"running": d.Running,
			"total":   d.Total,
			"open":    d.Open,
			"stale":   d.Stale,
			"ratio":   d.Ratio,
			"healthy": d.Healthy,
		}

	case events.ConnectionInfo:
		m := map[string]any{"id": d.ID, "ip": d.IP, "total": d.Total}
		if d.UserID != "" {
			m["user_id"] = d.UserID
		}
		if d.Reason != "" {
			m["reason"] = d.Reason
		}
		return m

	case events.ChannelChange:
		return map[string]any{"conn_id": d.ConnID, "channel": d.Channel, "subscribers": d.Subscribers}

	case events.StaleConnections:
		return map[string]any{"ids": d.IDs, "count": len(d.IDs), "timeout_ms": millis(d.Timeout)}

	case events.PoolMetrics:
		return map[string]any{
			"total_connections":           d.TotalConnections,
			"authenticated_connections":   d.AuthenticatedConnections,
			"anonymous_connections":       d.AnonymousConnections,
			"unique_users":                d.UniqueUsers,
			"total_channel_subscriptions": d.TotalChannelSubscriptions,
			"messages_per_second":         d.MessagesPerSecond,
			"avg_connection_duration_ms":  millis(d.AverageConnectionDuration),
		}

	default:
		return map[string]any{}
	}
}

// transform converts an event to an eventRow.
func transform(ev events.Event) (eventRow, error) {
	b, err := json.Marshal(detail(ev))
	if err != nil {
		return eventRow{}, err
	}
	occurred := ev.Time
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return eventRow{
		EventType:  string(ev.Type),
		Topic:      ev.Topic,
		OccurredAt: occurred.UTC(),
		Detail:     b,
	}, nil
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}
