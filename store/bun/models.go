package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/deadletter"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
	"github.com/evercart/tandem/projection"
	"github.com/evercart/tandem/saga"
)

// ── Event model ───────────────────────────────────────────────────

type eventModel struct {
	bun.BaseModel `bun:"table:tandem_events"`

	ID            string    `bun:"id,pk"`
	AggregateID   string    `bun:"aggregate_id,notnull"`
	AggregateType string    `bun:"aggregate_type,notnull"`
	Type          string    `bun:"type,notnull"`
	Version       int64     `bun:"version,notnull"`
	GlobalSeq     int64     `bun:"global_seq,notnull"`
	Payload       []byte    `bun:"payload,type:jsonb"`
	Metadata      []byte    `bun:"metadata,type:jsonb"`
	OccurredAt    time.Time `bun:"occurred_at,notnull,default:current_timestamp"`
}

func toEventModel(evt *eventlog.Event) (*eventModel, error) {
	var metadata []byte
	if len(evt.Metadata) > 0 {
		data, err := json.Marshal(evt.Metadata)
		if err != nil {
			return nil, fmt.Errorf("tandem/bun: encode event metadata: %w", err)
		}
		metadata = data
	}

	return &eventModel{
		ID:            evt.ID.String(),
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		Type:          evt.Type,
		Version:       evt.Version,
		GlobalSeq:     evt.GlobalSeq,
		Payload:       []byte(evt.Payload),
		Metadata:      metadata,
		OccurredAt:    evt.OccurredAt,
	}, nil
}

func fromEventModel(m *eventModel) (*eventlog.Event, error) {
	parsedID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: parse event id %q: %w", m.ID, err)
	}

	evt := &eventlog.Event{
		ID:            parsedID,
		AggregateID:   m.AggregateID,
		AggregateType: m.AggregateType,
		Type:          m.Type,
		Version:       m.Version,
		GlobalSeq:     m.GlobalSeq,
		OccurredAt:    m.OccurredAt,
	}

	if len(m.Payload) > 0 {
		evt.Payload = json.RawMessage(m.Payload)
	}
	if len(m.Metadata) > 0 && string(m.Metadata) != "null" {
		if err := json.Unmarshal(m.Metadata, &evt.Metadata); err != nil {
			return nil, fmt.Errorf("tandem/bun: decode event metadata: %w", err)
		}
	}

	return evt, nil
}

// ── Saga model ────────────────────────────────────────────────────

type sagaModel struct {
	bun.BaseModel `bun:"table:tandem_sagas"`

	ID                   string     `bun:"id,pk"`
	SagaType             string     `bun:"saga_type,notnull"`
	State                string     `bun:"state,notnull,default:'started'"`
	Data                 []byte     `bun:"data,type:jsonb"`
	Metadata             []byte     `bun:"metadata,type:jsonb"`
	CompletedSteps       []byte     `bun:"completed_steps,type:jsonb"`
	CurrentStep          string     `bun:"current_step,notnull,default:''"`
	FailureReason        string     `bun:"failure_reason,notnull,default:''"`
	ProcessedEventIDs    []byte     `bun:"processed_event_ids,type:jsonb"`
	PendingCompensations []byte     `bun:"pending_compensations,type:jsonb"`
	TimeoutAt            *time.Time `bun:"timeout_at"`
	CreatedAt            time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt            time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toSagaModel(inst *saga.Instance) (*sagaModel, error) {
	data, err := json.Marshal(inst.Data)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: encode saga data: %w", err)
	}
	metadata, err := json.Marshal(inst.Metadata)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: encode saga metadata: %w", err)
	}
	completed, err := json.Marshal(inst.CompletedSteps)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: encode completed steps: %w", err)
	}
	processed, err := json.Marshal(inst.ProcessedEventIDs)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: encode processed event ids: %w", err)
	}
	pending, err := json.Marshal(inst.PendingCompensations)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: encode pending compensations: %w", err)
	}

	m := &sagaModel{
		ID:                   inst.ID.String(),
		SagaType:             inst.SagaType,
		State:                string(inst.State),
		Data:                 data,
		Metadata:             metadata,
		CompletedSteps:       completed,
		CurrentStep:          inst.CurrentStep,
		FailureReason:        inst.FailureReason,
		ProcessedEventIDs:    processed,
		PendingCompensations: pending,
		CreatedAt:            inst.CreatedAt,
		UpdatedAt:            inst.UpdatedAt,
	}
	if !inst.TimeoutAt.IsZero() {
		t := inst.TimeoutAt
		m.TimeoutAt = &t
	}
	return m, nil
}

func fromSagaModel(m *sagaModel) (*saga.Instance, error) {
	parsedID, err := id.ParseSagaID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: parse saga id %q: %w", m.ID, err)
	}

	inst := &saga.Instance{
		Entity: tandem.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            parsedID,
		SagaType:      m.SagaType,
		State:         saga.State(m.State),
		CurrentStep:   m.CurrentStep,
		FailureReason: m.FailureReason,
	}

	if err := decodeJSONColumn(m.Data, &inst.Data, "saga data"); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(m.Metadata, &inst.Metadata, "saga metadata"); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(m.CompletedSteps, &inst.CompletedSteps, "completed steps"); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(m.ProcessedEventIDs, &inst.ProcessedEventIDs, "processed event ids"); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(m.PendingCompensations, &inst.PendingCompensations, "pending compensations"); err != nil {
		return nil, err
	}

	if m.TimeoutAt != nil {
		inst.TimeoutAt = *m.TimeoutAt
	}

	return inst, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	bun.BaseModel `bun:"table:tandem_checkpoints"`

	Projection    string    `bun:"projection,pk"`
	LastGlobalSeq int64     `bun:"last_global_seq,notnull,default:0"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func fromCheckpointModel(m *checkpointModel) *projection.Checkpoint {
	return &projection.Checkpoint{
		Entity: tandem.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Projection:    m.Projection,
		LastGlobalSeq: m.LastGlobalSeq,
	}
}

// ── Dead letter model ─────────────────────────────────────────────

type deadLetterModel struct {
	bun.BaseModel `bun:"table:tandem_dead_letters"`

	ID         string     `bun:"id,pk"`
	Projection string     `bun:"projection,notnull"`
	Event      []byte     `bun:"event,notnull,type:jsonb"`
	EventID    string     `bun:"event_id,notnull"`
	EventType  string     `bun:"event_type,notnull"`
	GlobalSeq  int64      `bun:"global_seq,notnull"`
	Error      string     `bun:"error,notnull"`
	FailedAt   time.Time  `bun:"failed_at,notnull"`
	ReplayedAt *time.Time `bun:"replayed_at"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toDeadLetterModel(entry *deadletter.Entry) (*deadLetterModel, error) {
	event, err := json.Marshal(entry.Event)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: encode dead letter event: %w", err)
	}

	return &deadLetterModel{
		ID:         entry.ID.String(),
		Projection: entry.Projection,
		Event:      event,
		EventID:    entry.EventID.String(),
		EventType:  entry.EventType,
		GlobalSeq:  entry.GlobalSeq,
		Error:      entry.Error,
		FailedAt:   entry.FailedAt,
		ReplayedAt: entry.ReplayedAt,
		CreatedAt:  entry.CreatedAt,
		UpdatedAt:  entry.UpdatedAt,
	}, nil
}

func fromDeadLetterModel(m *deadLetterModel) (*deadletter.Entry, error) {
	parsedID, err := id.ParseDeadLetterID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: parse dead letter id %q: %w", m.ID, err)
	}
	parsedEventID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: parse event id %q: %w", m.EventID, err)
	}

	entry := &deadletter.Entry{
		Entity: tandem.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         parsedID,
		Projection: m.Projection,
		EventID:    parsedEventID,
		EventType:  m.EventType,
		GlobalSeq:  m.GlobalSeq,
		Error:      m.Error,
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
	}

	if len(m.Event) > 0 {
		var evt eventlog.Event
		if err := json.Unmarshal(m.Event, &evt); err != nil {
			return nil, fmt.Errorf("tandem/bun: decode dead letter event: %w", err)
		}
		entry.Event = &evt
	}

	return entry, nil
}

// decodeJSONColumn unmarshals a nullable JSONB column, leaving the
// target zero-valued when the column is NULL or the JSON null literal.
func decodeJSONColumn(data []byte, target any, what string) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("tandem/bun: decode %s: %w", what, err)
	}
	return nil
}
