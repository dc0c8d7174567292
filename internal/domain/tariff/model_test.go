package tariff

import (
	"testing"
)

func TestNewContext_Defaults(t *testing.T) {
	cc := NewContext(CalculateRequest{})

	if cc.Times.Start != "00:00" || cc.Times.End != "00:00" {
		t.Errorf("expected zero times, got %+v", cc.Times)
	}
	if cc.PMBRequestedRate != 1.0 {
		t.Errorf("expected default PMB rate 1.0, got %v", cc.PMBRequestedRate)
	}
	if cc.DurationMinutes() != 0 {
		t.Errorf("expected zero duration, got %d", cc.DurationMinutes())
	}
}

func TestClaimContext_DurationMinutes(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		want       int
	}{
		{"one hour", "12:00", "13:00", 60},
		{"eighty minutes", "12:40", "14:00", 80},
		{"same time", "09:15", "09:15", 0},
		{"unparseable start", "noon", "13:00", 0},
		{"unparseable end", "12:00", "late", 0},
		{"end before start", "14:00", "12:00", -120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := NewContext(CalculateRequest{Times: Times{Start: tt.start, End: tt.end}})
			if got := cc.DurationMinutes(); got != tt.want {
				t.Errorf("DurationMinutes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClaimContext_BMI(t *testing.T) {
	tests := []struct {
		name           string
		weight, height float64
		want           float64
	}{
		{"normal", 89, 160, 34.8},
		{"obese", 120, 170, 41.5},
		{"missing weight", 0, 170, 0},
		{"missing height", 89, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := NewContext(CalculateRequest{Patient: Patient{WeightKG: tt.weight, HeightCM: tt.height}})
			if got := cc.BMI(); got != tt.want {
				t.Errorf("BMI() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateRequest_Empty(t *testing.T) {
	if !(CalculateRequest{}).Empty() {
		t.Error("expected empty request to report Empty")
	}
	if (CalculateRequest{Discipline: "014A"}).Empty() {
		t.Error("expected request with discipline to not report Empty")
	}
	if (CalculateRequest{Diagnoses: []string{"D25.9"}}).Empty() {
		t.Error("expected request with diagnoses to not report Empty")
	}
}

func TestCalculationResult_Accumulation(t *testing.T) {
	r := NewResult()

	r.Add(100.555)
	r.AddLineItem(LineItem{Code: "0023", Units: 8, UnitPrice: 22.5, Total: 180})

	if r.Total() != 280.555 {
		t.Errorf("expected running total 280.555, got %v", r.Total())
	}

	out := r.Output()
	if out.TotalAmount != 280.56 {
		t.Errorf("expected rounded total 280.56, got %v", out.TotalAmount)
	}
	if len(out.LineItems) != 1 || out.LineItems[0].Code != "0023" {
		t.Errorf("unexpected line items: %+v", out.LineItems)
	}
}

func TestCalculationResult_PMBSticky(t *testing.T) {
	r := NewResult()

	r.SetPMB(true)
	r.SetPMB(false)

	if !r.IsPMB() {
		t.Error("expected PMB flag to remain set")
	}
}

func TestCalculationResult_Trace(t *testing.T) {
	r := NewResult()

	r.Logf("rule %s fired with %d units", "0023", 8)

	out := r.Output()
	if len(out.Trace) != 1 || out.Trace[0] != "rule 0023 fired with 8 units" {
		t.Errorf("unexpected trace: %v", out.Trace)
	}
}

func TestOutput_RoundsLineItems(t *testing.T) {
	r := NewResult()
	r.AddLineItem(LineItem{Code: "2471", Units: 6, UnitPrice: 21.1234, Total: 126.7404})

	out := r.Output()
	if out.LineItems[0].UnitPrice != 21.12 {
		t.Errorf("expected rounded unit price 21.12, got %v", out.LineItems[0].UnitPrice)
	}
	if out.LineItems[0].Total != 126.74 {
		t.Errorf("expected rounded total 126.74, got %v", out.LineItems[0].Total)
	}
}
