package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// exportJSON exports audit events as JSON array
func exportJSON(events []*AuditEvent) ([]byte, error) {
	if events == nil {
		events = []*AuditEvent{}
	}
	return json.MarshalIndent(events, "", "  ")
}

// exportNDJSON exports audit events as newline-delimited JSON
func exportNDJSON(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
	}

	return buf.Bytes(), nil
}

var csvHeader = []string{
	"id",
	"timestamp",
	"event_type",
	"status",
	"actor_id",
	"action",
	"resource",
	"target_type",
	"target_id",
	"correlation_id",
	"ip_address",
	"message",
	"error_message",
	"reason",
}

// exportCSV exports audit events as CSV. Metadata and changes are omitted
// apart from the decision reason.
func exportCSV(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		reason, _ := event.Metadata["reason"].(string)
		row := []string{
			event.ID,
			event.Timestamp.UTC().Format(time.RFC3339Nano),
			string(event.EventType),
			string(event.Status),
			event.ActorID,
			event.Action,
			event.Resource,
			string(event.TargetType),
			event.TargetID,
			event.CorrelationID,
			event.IPAddress,
			event.Message,
			event.ErrorMessage,
			reason,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
