package tariff

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type referenceRepoPG struct{ pool *pgxpool.Pool }

func NewReferenceRepoPG(pool *pgxpool.Pool) ReferenceRepository {
	return &referenceRepoPG{pool: pool}
}

func (r *referenceRepoPG) IsPMB(ctx context.Context, icd10Code string) (bool, bool, error) {
	var pmb bool
	rows, err := r.pool.Query(ctx,
		`SELECT is_pmb FROM pmb_registry WHERE icd10_code = $1`, icd10Code)
	if err != nil {
		return false, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return false, false, rows.Err()
	}
	if err := rows.Scan(&pmb); err != nil {
		return false, false, err
	}
	return pmb, true, nil
}

func (r *referenceRepoPG) ModifierMetadata(ctx context.Context, codes []string) (map[string]ModifierMeta, error) {
	out := make(map[string]ModifierMeta, len(codes))
	if len(codes) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT tariff_code, description, exempt_from_reduction
		FROM modifier_metadata WHERE tariff_code = ANY($1)`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m ModifierMeta
		if err := rows.Scan(&m.TariffCode, &m.Description, &m.ExemptFromReduction); err != nil {
			return nil, err
		}
		out[m.TariffCode] = m
	}
	return out, rows.Err()
}

func (r *referenceRepoPG) InsertLog(ctx context.Context, log *CalculationLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO calculation_logs (id, request_payload, response_payload, trace_log)
		VALUES ($1, $2, $3, $4)`,
		log.ID, log.RequestPayload, log.ResponsePayload, log.TraceLog)
	return err
}

const logCols = `id, request_payload, response_payload, trace_log, created_at`

func (r *referenceRepoPG) ListLogs(ctx context.Context, limit, offset int) ([]*CalculationLog, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM calculation_logs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+logCols+` FROM calculation_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*CalculationLog
	for rows.Next() {
		var l CalculationLog
		if err := rows.Scan(&l.ID, &l.RequestPayload, &l.ResponsePayload, &l.TraceLog, &l.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &l)
	}
	return items, total, rows.Err()
}

func (r *referenceRepoPG) GetLog(ctx context.Context, id uuid.UUID) (*CalculationLog, error) {
	var l CalculationLog
	err := r.pool.QueryRow(ctx,
		`SELECT `+logCols+` FROM calculation_logs WHERE id = $1`, id).
		Scan(&l.ID, &l.RequestPayload, &l.ResponsePayload, &l.TraceLog, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
