package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/evercart/tandem/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"EventID", id.NewEventID, "evt_"},
		{"SagaID", id.NewSagaID, "saga_"},
		{"RequestID", id.NewRequestID, "req_"},
		{"DeadLetterID", id.NewDeadLetterID, "dlx_"},
		{"CheckpointID", id.NewCheckpointID, "chk_"},
		{"LockToken", id.NewLockToken, "lck_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	i := id.New(id.PrefixSaga)
	if i.IsNil() {
		t.Fatal("expected non-nil ID")
	}
	if i.Prefix() != id.PrefixSaga {
		t.Errorf("expected prefix %q, got %q", id.PrefixSaga, i.Prefix())
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"EventID", id.NewEventID, id.ParseEventID},
		{"SagaID", id.NewSagaID, id.ParseSagaID},
		{"RequestID", id.NewRequestID, id.ParseRequestID},
		{"DeadLetterID", id.NewDeadLetterID, id.ParseDeadLetterID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseEventID rejects saga_", id.NewSagaID().String(), id.ParseEventID},
		{"ParseSagaID rejects req_", id.NewRequestID().String(), id.ParseSagaID},
		{"ParseRequestID rejects dlx_", id.NewDeadLetterID().String(), id.ParseRequestID},
		{"ParseDeadLetterID rejects evt_", id.NewEventID().String(), id.ParseDeadLetterID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parseFn(tt.input)
			if err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero value should be nil")
	}
	if i.String() != "" {
		t.Errorf("nil ID String() = %q, want empty", i.String())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := id.NewSagaID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded id.ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", decoded.String(), original.String())
	}
}

func TestScanValue(t *testing.T) {
	original := id.NewEventID()

	v, err := original.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("scan round-trip mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilScanned id.ID
	if err := nilScanned.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if !nilScanned.IsNil() {
		t.Error("scanning nil should yield the Nil ID")
	}
}
