// Package tariff implements the claim calculation engine: request
// context building, discipline strategy dispatch, the anaesthesia rule
// set and the calculation audit trail.
package tariff

import (
	"fmt"
	"math"
	"time"

	"github.com/meditechbill/tariff-engine/internal/medprax"
)

// Times is the procedure start and end on a 24h wall clock.
type Times struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Patient carries the demographics needed by the modifier rules.
type Patient struct {
	DateOfBirth string  `json:"dob"`
	WeightKG    float64 `json:"weight_kg"`
	HeightCM    float64 `json:"height_cm"`
}

// Procedure is one billed tariff code with its price records. MSRs may
// be empty on input, in which case the service hydrates them from the
// lookup client before execution.
type Procedure struct {
	Code string             `json:"code"`
	MSRs medprax.RecordList `json:"msrs,omitempty"`
}

// CalculateRequest is the claim payload accepted by the calculate
// endpoint.
type CalculateRequest struct {
	Discipline       string      `json:"discipline"`
	Role             string      `json:"role"`
	Times            Times       `json:"times"`
	Patient          Patient     `json:"patient"`
	EmergencyFlag    bool        `json:"emergency_flag"`
	Diagnoses        []string    `json:"diagnoses"`
	Procedures       []Procedure `json:"procedures"`
	PMBRequestedRate float64     `json:"pmb_requested_rate,omitempty"`
	ServiceDate      string      `json:"service_date,omitempty"`
	PlanOption       string      `json:"plan_option,omitempty"`
}

// Empty reports whether the payload carries no claim data at all, which
// the calculate endpoint treats as a liveness probe.
func (r CalculateRequest) Empty() bool {
	return r.Discipline == "" && len(r.Procedures) == 0 && len(r.Diagnoses) == 0
}

// ClaimContext is the immutable state of one calculation request.
// Missing payload fields default to safe values; building a context
// never fails.
type ClaimContext struct {
	Discipline       string
	Role             string
	Times            Times
	Patient          Patient
	EmergencyFlag    bool
	Diagnoses        []string
	Procedures       []Procedure
	PMBRequestedRate float64
}

// NewContext builds a ClaimContext from a request payload.
func NewContext(req CalculateRequest) *ClaimContext {
	cc := &ClaimContext{
		Discipline:       req.Discipline,
		Role:             req.Role,
		Times:            req.Times,
		Patient:          req.Patient,
		EmergencyFlag:    req.EmergencyFlag,
		Diagnoses:        req.Diagnoses,
		Procedures:       req.Procedures,
		PMBRequestedRate: req.PMBRequestedRate,
	}
	if cc.Times.Start == "" {
		cc.Times.Start = "00:00"
	}
	if cc.Times.End == "" {
		cc.Times.End = "00:00"
	}
	if cc.PMBRequestedRate <= 0 {
		cc.PMBRequestedRate = 1.0
	}
	return cc
}

// DurationMinutes returns the whole minutes between start and end time.
// Unparseable times yield 0. End times before start are not adjusted
// for midnight crossing.
func (cc *ClaimContext) DurationMinutes() int {
	start, err := time.Parse("15:04", cc.Times.Start)
	if err != nil {
		return 0
	}
	end, err := time.Parse("15:04", cc.Times.End)
	if err != nil {
		return 0
	}
	return int(end.Sub(start).Minutes())
}

// BMI returns the patient's body mass index rounded to one decimal, or
// 0 when weight or height is missing.
func (cc *ClaimContext) BMI() float64 {
	if cc.Patient.WeightKG <= 0 || cc.Patient.HeightCM <= 0 {
		return 0
	}
	heightM := cc.Patient.HeightCM / 100
	return math.Round(cc.Patient.WeightKG/(heightM*heightM)*10) / 10
}

// LineItem is one priced entry in a calculation result. Negative totals
// record reductions.
type LineItem struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Units       float64 `json:"units"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

// CalculationResult accumulates the outcome of one strategy execution.
// It is owned by a single calculation and never shared.
type CalculationResult struct {
	totalAmount float64
	isPMB       bool
	lineItems   []LineItem
	trace       []string
}

func NewResult() *CalculationResult {
	return &CalculationResult{}
}

// Add applies a signed amount to the running total.
func (r *CalculationResult) Add(amount float64) {
	r.totalAmount += amount
}

// AddLineItem appends the item and applies its total.
func (r *CalculationResult) AddLineItem(item LineItem) {
	r.lineItems = append(r.lineItems, item)
	r.totalAmount += item.Total
}

// SetPMB marks the result as PMB. The flag is sticky: once set it is
// never cleared.
func (r *CalculationResult) SetPMB(pmb bool) {
	if pmb {
		r.isPMB = true
	}
}

func (r *CalculationResult) IsPMB() bool { return r.isPMB }

// Total returns the unrounded running total.
func (r *CalculationResult) Total() float64 { return r.totalAmount }

// Logf appends a formatted entry to the trace. The trace is diagnostic
// output only and never drives control flow.
func (r *CalculationResult) Logf(format string, args ...interface{}) {
	r.trace = append(r.trace, fmt.Sprintf(format, args...))
}

// Output is the wire form of a finished calculation.
type Output struct {
	TotalAmount float64    `json:"total_amount"`
	IsPMB       bool       `json:"is_pmb"`
	LineItems   []LineItem `json:"line_items"`
	Trace       []string   `json:"trace"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Output renders the result with all amounts rounded to cents. Amounts
// are carried unrounded through the stages and rounded only here.
func (r *CalculationResult) Output() *Output {
	items := make([]LineItem, len(r.lineItems))
	for i, it := range r.lineItems {
		it.Units = round2(it.Units)
		it.UnitPrice = round2(it.UnitPrice)
		it.Total = round2(it.Total)
		items[i] = it
	}
	return &Output{
		TotalAmount: round2(r.totalAmount),
		IsPMB:       r.isPMB,
		LineItems:   items,
		Trace:       r.trace,
	}
}
