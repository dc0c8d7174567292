package tariff

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ModifierMeta is the reference row describing how a tariff code
// interacts with the reduction modifier.
type ModifierMeta struct {
	TariffCode          string `json:"tariff_code"`
	Description         string `json:"description"`
	ExemptFromReduction bool   `json:"exempt_from_reduction"`
}

// CalculationLog is one persisted audit record of a calculation.
type CalculationLog struct {
	ID              uuid.UUID       `json:"id"`
	RequestPayload  json.RawMessage `json:"request_payload"`
	ResponsePayload json.RawMessage `json:"response_payload"`
	TraceLog        json.RawMessage `json:"trace_log"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ReferenceRepository reads the local reference tables and writes the
// calculation audit trail. The engine treats every read error as
// "no data" and falls back to built-in defaults.
type ReferenceRepository interface {
	// IsPMB reports whether the ICD-10 code is registered as a
	// prescribed minimum benefit. found is false when the registry has
	// no row for the code.
	IsPMB(ctx context.Context, icd10Code string) (pmb bool, found bool, err error)

	// ModifierMetadata returns reference rows for the given tariff
	// codes, keyed by code. Codes without a row are absent from the map.
	ModifierMetadata(ctx context.Context, codes []string) (map[string]ModifierMeta, error)

	// InsertLog persists one calculation audit record.
	InsertLog(ctx context.Context, log *CalculationLog) error

	// ListLogs returns audit records newest first.
	ListLogs(ctx context.Context, limit, offset int) ([]*CalculationLog, int, error)

	// GetLog returns a single audit record by id.
	GetLog(ctx context.Context, id uuid.UUID) (*CalculationLog, error)
}
