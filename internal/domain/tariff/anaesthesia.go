package tariff

import (
	"context"
	"math"

	"github.com/meditechbill/tariff-engine/internal/medprax"
)

// Anaesthesia billing constants for discipline 014A. Time is billed
// under modifier 0023, emergencies under 0011, BMI loading under 0018
// and the duration reduction under 0036.
const (
	disciplineAnaesthesia = "014A"

	timeTariffCode  = "0023"
	emergencyCode   = "0011"
	bmiModifierCode = "0018"
	reductionCode   = "0036"
	pmbOverrideCode = "PMB"

	baseTimeMinutes = 60
	baseTimeUnits   = 8.0
	blockMinutes    = 15
	blockUnits      = 3.0

	emergencyUnits   = 12.0
	bmiThreshold     = 35.0
	bmiLoadingFactor = 0.5
	reductionFactor  = 0.8

	// fallbackUnitRate prices time units when no rate can be derived
	// from the supplied price records.
	fallbackUnitRate = 22.50
)

// fallbackExemptCodes are the codes treated as exempt from the 0036
// reduction when the reference store has no metadata for them.
var fallbackExemptCodes = map[string]bool{
	"0038": true,
	"0039": true,
	"1120": true,
	"1221": true,
	"2799": true,
}

// fallbackPMBCodes is the built-in prescribed minimum benefit set used
// when neither the lookup client nor the registry can answer.
var fallbackPMBCodes = map[string]bool{
	"D25.9": true,
	"K35.8": true,
}

// DiagnosisLookup resolves ICD-10 codes against an external catalogue.
// known is false when the catalogue has no entry for the code.
type DiagnosisLookup interface {
	Enabled() bool
	LookupDiagnosis(ctx context.Context, code string) (pmb bool, known bool, err error)
}

// AnaesthesiaStrategy implements the 014A rule set: tiered time units,
// emergency and BMI modifiers, reducible/exempt bucketing, the duration
// reduction and PMB rate overrides.
type AnaesthesiaStrategy struct {
	repo   ReferenceRepository
	lookup DiagnosisLookup
}

// NewAnaesthesiaStrategy builds the 014A strategy. lookup may be nil,
// in which case PMB resolution relies on the registry and the built-in
// fallback set.
func NewAnaesthesiaStrategy(repo ReferenceRepository, lookup DiagnosisLookup) *AnaesthesiaStrategy {
	return &AnaesthesiaStrategy{repo: repo, lookup: lookup}
}

func (s *AnaesthesiaStrategy) Supports(cc *ClaimContext) bool {
	return cc.Discipline == disciplineAnaesthesia
}

// Calculate runs the 014A stages in order. Amounts are carried
// unrounded between stages; reference and lookup failures degrade to
// the next rule in each derivation chain with a trace entry.
func (s *AnaesthesiaStrategy) Calculate(ctx context.Context, cc *ClaimContext) *CalculationResult {
	result := NewResult()
	result.Logf("Starting 014A anaesthesia calculation")

	// Time units.
	duration := cc.DurationMinutes()
	baseUnits := timeUnitsFor(duration)
	result.Logf("Duration: %d mins. Base time units: %.2f", duration, baseUnits)

	// Emergency modifier.
	var emergUnits float64
	if cc.EmergencyFlag {
		emergUnits = emergencyUnits
		result.Logf("Emergency flag set. Modifier %s: +%.2f units", emergencyCode, emergUnits)
	}

	// BMI modifier applies to the time-unit total so far.
	var bmiUnits float64
	bmi := cc.BMI()
	if bmi >= bmiThreshold {
		bmiUnits = (baseUnits + emergUnits) * bmiLoadingFactor
		result.Logf("BMI %.1f (>= %.0f). Modifier %s: +%.2f units", bmi, bmiThreshold, bmiModifierCode, bmiUnits)
	} else {
		result.Logf("BMI %.1f. No BMI modifier applied", bmi)
	}

	// Rate derivation and bucketing.
	rate := s.deriveUnitRate(cc, result)

	if baseUnits > 0 {
		result.AddLineItem(LineItem{
			Code:        timeTariffCode,
			Description: "Anaesthetic time",
			Units:       baseUnits,
			UnitPrice:   rate,
			Total:       baseUnits * rate,
		})
	}
	if emergUnits > 0 {
		result.AddLineItem(LineItem{
			Code:        emergencyCode,
			Description: "Emergency anaesthetic modifier",
			Units:       emergUnits,
			UnitPrice:   rate,
			Total:       emergUnits * rate,
		})
	}
	if bmiUnits > 0 {
		result.AddLineItem(LineItem{
			Code:        bmiModifierCode,
			Description: "BMI loading modifier",
			Units:       bmiUnits,
			UnitPrice:   rate,
			Total:       bmiUnits * rate,
		})
	}

	// All time-unit value is reducible.
	reducible := (baseUnits + emergUnits + bmiUnits) * rate
	exempt := 0.0

	meta := s.modifierMetadata(ctx, cc, result)
	for _, proc := range cc.Procedures {
		if proc.Code == timeTariffCode {
			continue
		}
		if len(proc.MSRs) == 0 {
			result.Logf("Warning: no price found for code %s", proc.Code)
			continue
		}

		rec := proc.MSRs[0]
		value := rec.RandValue()
		result.AddLineItem(LineItem{
			Code:        proc.Code,
			Description: rec.Description,
			Units:       rec.NumberOfUnits,
			UnitPrice:   rec.RatePublished,
			Total:       value,
		})

		if s.isExempt(proc.Code, meta) {
			exempt += value
			result.Logf("Code %s is exempt from reduction: R%.2f", proc.Code, value)
		} else {
			reducible += value
		}
	}

	result.Logf("Buckets before reduction: reducible R%.2f, exempt R%.2f", reducible, exempt)

	// Duration reduction on the reducible bucket only.
	if duration > baseTimeMinutes {
		discount := reducible * (1 - reductionFactor)
		result.AddLineItem(LineItem{
			Code:        reductionCode,
			Description: "Duration reduction modifier",
			Total:       -discount,
		})
		result.Logf("Modifier %s applied: reducible bucket multiplied by %.1f", reductionCode, reductionFactor)
	}

	// PMB determination and rate override.
	for _, diag := range cc.Diagnoses {
		if s.isPMB(ctx, diag, result) {
			result.SetPMB(true)
			result.Logf("Diagnosis %s identified as PMB", diag)
		}
	}
	if result.IsPMB() && cc.PMBRequestedRate > 1.0 {
		delta := result.Total() * (cc.PMBRequestedRate - 1.0)
		result.AddLineItem(LineItem{
			Code:        pmbOverrideCode,
			Description: "PMB rate override",
			Total:       delta,
		})
		result.Logf("PMB rate override %.2fx applied: +R%.2f", cc.PMBRequestedRate, delta)
	}

	return result
}

// timeUnitsFor returns the tiered time units for a duration: 8 units
// for the first hour, then 3 units per started 15-minute block.
func timeUnitsFor(durationMinutes int) float64 {
	if durationMinutes <= 0 {
		return 0
	}
	if durationMinutes <= baseTimeMinutes {
		return baseTimeUnits
	}
	blocks := math.Ceil(float64(durationMinutes-baseTimeMinutes) / blockMinutes)
	return baseTimeUnits + blocks*blockUnits
}

// deriveUnitRate resolves the Rand-per-unit rate for time units:
// the 0023 price record when supplied, then any record publishing a
// rate conversion factor, then the fixed fallback.
func (s *AnaesthesiaStrategy) deriveUnitRate(cc *ClaimContext, result *CalculationResult) float64 {
	for _, proc := range cc.Procedures {
		if proc.Code != timeTariffCode || len(proc.MSRs) == 0 {
			continue
		}
		rec := proc.MSRs[0]
		if rec.NumberOfUnits <= 0 {
			continue
		}
		rate := rec.RatePublished
		if rate == 0 {
			rate = rec.RandSchemeFixed
		}
		if rate > 0 {
			unitRate := rate / rec.NumberOfUnits
			result.Logf("Time rate from %s record: R%.4f per unit", timeTariffCode, unitRate)
			return unitRate
		}
	}

	for _, proc := range cc.Procedures {
		if proc.Code == timeTariffCode || len(proc.MSRs) == 0 {
			continue
		}
		rec := proc.MSRs[0]
		if rec.NumberOfUnits > 0 && rec.RCFPublished > 0 {
			result.Logf("Derived time RCF from code %s: R%.4f per unit", proc.Code, rec.RCFPublished)
			return rec.RCFPublished
		}
	}

	result.Logf("Using fallback time rate: R%.2f per unit", fallbackUnitRate)
	return fallbackUnitRate
}

// modifierMetadata fetches reduction metadata for the claim's codes.
// A store failure degrades to the built-in exemption set.
func (s *AnaesthesiaStrategy) modifierMetadata(ctx context.Context, cc *ClaimContext, result *CalculationResult) map[string]ModifierMeta {
	codes := make([]string, 0, len(cc.Procedures))
	for _, proc := range cc.Procedures {
		if proc.Code != timeTariffCode {
			codes = append(codes, proc.Code)
		}
	}
	if len(codes) == 0 {
		return nil
	}

	meta, err := s.repo.ModifierMetadata(ctx, codes)
	if err != nil {
		result.Logf("Modifier metadata unavailable, using built-in exemption set: %v", err)
		return nil
	}
	return meta
}

// isExempt classifies a code against the metadata map, falling back to
// the built-in exemption set for codes without a row.
func (s *AnaesthesiaStrategy) isExempt(code string, meta map[string]ModifierMeta) bool {
	if m, ok := meta[code]; ok {
		return m.ExemptFromReduction
	}
	return fallbackExemptCodes[code]
}

// isPMB resolves a diagnosis through the lookup client, the registry
// and the built-in set, in that order.
func (s *AnaesthesiaStrategy) isPMB(ctx context.Context, code string, result *CalculationResult) bool {
	if s.lookup != nil && s.lookup.Enabled() {
		pmb, known, err := s.lookup.LookupDiagnosis(ctx, code)
		if err != nil {
			result.Logf("Diagnosis lookup failed for %s, falling back to registry: %v", code, err)
		} else if known {
			return pmb
		}
	}

	pmb, found, err := s.repo.IsPMB(ctx, code)
	if err != nil {
		result.Logf("PMB registry unavailable for %s, using built-in set: %v", code, err)
	} else if found {
		return pmb
	}

	return fallbackPMBCodes[code]
}

var _ DiagnosisLookup = (*medprax.Client)(nil)
