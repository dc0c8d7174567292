package tariff

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meditechbill/tariff-engine/internal/medprax"
)

// PriceLookup hydrates procedures with MSR price records from the
// external tariff API.
type PriceLookup interface {
	Enabled() bool
	LookupPrices(ctx context.Context, codes []string, plan, discipline, serviceDate string) (map[string][]medprax.Record, error)
}

// Service orchestrates a calculation: price hydration, context
// construction, strategy dispatch and the audit trail.
type Service struct {
	registry    *Registry
	repo        ReferenceRepository
	prices      PriceLookup
	defaultPlan string
}

// NewService builds the orchestrator. prices may be nil when no lookup
// client is configured; procedures then calculate from supplied
// records only.
func NewService(registry *Registry, repo ReferenceRepository, prices PriceLookup, defaultPlan string) *Service {
	return &Service{
		registry:    registry,
		repo:        repo,
		prices:      prices,
		defaultPlan: defaultPlan,
	}
}

// Calculate processes one claim payload. It fails only when no
// strategy supports the discipline; hydration and audit failures are
// logged and absorbed.
func (s *Service) Calculate(ctx context.Context, req CalculateRequest) (*Output, error) {
	s.hydrate(ctx, &req)

	cc := NewContext(req)

	strategy, err := s.registry.Select(cc)
	if err != nil {
		return nil, err
	}

	output := strategy.Calculate(ctx, cc).Output()

	s.audit(ctx, req, output)

	return output, nil
}

// hydrate fills missing MSR records with one batched lookup call,
// fanning records back to every procedure sharing a code. A lookup
// failure degrades those codes to "no price record".
func (s *Service) hydrate(ctx context.Context, req *CalculateRequest) {
	if s.prices == nil || !s.prices.Enabled() {
		return
	}

	var missing []string
	seen := make(map[string]bool)
	for _, proc := range req.Procedures {
		if len(proc.MSRs) == 0 && proc.Code != "" && !seen[proc.Code] {
			missing = append(missing, proc.Code)
			seen[proc.Code] = true
		}
	}
	if len(missing) == 0 {
		return
	}

	plan := req.PlanOption
	if plan == "" {
		plan = s.defaultPlan
	}

	records, err := s.prices.LookupPrices(ctx, missing, plan, req.Discipline, req.ServiceDate)
	if err != nil {
		log.Warn().Err(err).Strs("codes", missing).Msg("price hydration failed")
		return
	}

	for i := range req.Procedures {
		proc := &req.Procedures[i]
		if len(proc.MSRs) == 0 {
			proc.MSRs = records[proc.Code]
		}
	}
}

// audit persists the calculation best-effort; a write failure never
// affects the response.
func (s *Service) audit(ctx context.Context, req CalculateRequest, output *Output) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		log.Warn().Err(err).Msg("audit log skipped: marshalling request")
		return
	}
	respJSON, err := json.Marshal(output)
	if err != nil {
		log.Warn().Err(err).Msg("audit log skipped: marshalling response")
		return
	}
	traceJSON, err := json.Marshal(output.Trace)
	if err != nil {
		log.Warn().Err(err).Msg("audit log skipped: marshalling trace")
		return
	}

	entry := &CalculationLog{
		RequestPayload:  reqJSON,
		ResponsePayload: respJSON,
		TraceLog:        traceJSON,
	}
	if err := s.repo.InsertLog(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("audit log write failed")
	}
}

// ListLogs returns persisted calculations newest first.
func (s *Service) ListLogs(ctx context.Context, limit, offset int) ([]*CalculationLog, int, error) {
	return s.repo.ListLogs(ctx, limit, offset)
}

// GetLog returns one persisted calculation.
func (s *Service) GetLog(ctx context.Context, id uuid.UUID) (*CalculationLog, error) {
	return s.repo.GetLog(ctx, id)
}
