// Package medprax implements a client for the Medprax pricing and
// product APIs used to hydrate claims with MSR price records and to
// resolve ICD-10 diagnosis details.
package medprax

import "encoding/json"

// Record is a single MSR price record as returned by the tariff API.
// Prices arrive under several fields and which one is authoritative
// depends on how the scheme publishes the code; see RandValue.
type Record struct {
	Code            string  `json:"code"`
	Description     string  `json:"description,omitempty"`
	NumberOfUnits   float64 `json:"numberOfUnits"`
	RatePublished   float64 `json:"tariffRatePublished"`
	RCFPublished    float64 `json:"tariffRcfPublished"`
	RandSchemeFixed float64 `json:"tariffRandSchemeFixed"`
	RandCalculated  float64 `json:"tariffRandCalculated"`
}

// RandValue returns the best available total price for the record:
// the scheme-calculated amount when present, otherwise the published
// rate multiplied by the unit count, otherwise the fixed scheme amount.
func (r Record) RandValue() float64 {
	if r.RandCalculated > 0 {
		return r.RandCalculated
	}
	if v := r.RatePublished * r.NumberOfUnits; v > 0 {
		return v
	}
	return r.RandSchemeFixed
}

// RecordList decodes MSR responses that arrive either as a paginated
// object with a pageResult array or as a bare array of records.
type RecordList []Record

func (l *RecordList) UnmarshalJSON(data []byte) error {
	var page struct {
		PageResult []Record `json:"pageResult"`
	}
	if err := json.Unmarshal(data, &page); err == nil && page.PageResult != nil {
		*l = page.PageResult
		return nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	*l = records
	return nil
}

// ICD10 is a diagnosis entry from the product API.
type ICD10 struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	PMB         bool   `json:"isPmb"`
}

// icd10SearchResponse wraps the nested paginated ICD-10 search result.
type icd10SearchResponse struct {
	ICD10s struct {
		PageResult []ICD10 `json:"pageResult"`
	} `json:"icd10s"`
}

// searchFilter is one predicate in a Medprax search request body.
type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operation    string `json:"operation"`
	Value        string `json:"value"`
}

// searchRequest is the common body of /search endpoints.
type searchRequest struct {
	SortKey    string         `json:"sortKey"`
	Filters    []searchFilter `json:"filters"`
	FilterJoin string         `json:"filterJoin"`
}

// msrListRequest is the body of /msr/{type}/list.
type msrListRequest struct {
	TariffCodes    []string `json:"tariffCodes"`
	PlanOptionCode string   `json:"planOptionCode"`
	DisciplineCode string   `json:"disciplineCode"`
	PriceGroupCode string   `json:"priceGroupCode"`
	Model          bool     `json:"model"`
}
