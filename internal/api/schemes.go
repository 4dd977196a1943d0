package api

import (
	"encoding/json"
	"fmt"
)

// SchemeType is the enrolment cadence of a savings scheme.
type SchemeType string

const (
	SchemeDaily   SchemeType = "Daily"
	SchemeWeekly  SchemeType = "Weekly"
	SchemeMonthly SchemeType = "Monthly"
)

// Scheme is one enrolled installment-based savings plan. This is the
// canonical shape; older backend versions used a divergent field naming
// scheme which is normalised away during decoding and never stored.
type Scheme struct {
	SchemeCode        string     `json:"schemeCode"`
	InstallmentMonths int        `json:"installmentMonths"`
	SchemeType        SchemeType `json:"schemeType"`
	JoiningDate       string     `json:"joiningDate"`
	TotalSavingsGrams float64    `json:"totalSavingsGrams"`
	RemainingPayments int        `json:"remainingPayments"`
	PayAmount         float64    `json:"payAmount"`
}

// ProgressFraction derives the completed share of the scheme from the two
// source fields. The value is computed on demand and never stored, so it
// cannot drift from them.
func (s Scheme) ProgressFraction() float64 {
	if s.InstallmentMonths <= 0 {
		return 0
	}
	f := float64(s.InstallmentMonths-s.RemainingPayments) / float64(s.InstallmentMonths)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// parseSchemes decodes a scheme list, accepting both backend field naming
// generations, and fails closed on records that violate the scheme
// invariants rather than caching a half-valid set.
func parseSchemes(raw json.RawMessage) ([]Scheme, error) {
	rows, err := decodeSlice(raw)
	if err != nil {
		return nil, ApplicationError(EndpointSchemes, "unexpected schemes payload")
	}

	schemes := make([]Scheme, 0, len(rows))
	for _, row := range rows {
		s := Scheme{
			SchemeCode:        firstString(row, "schemeCode", "scheme_code", "scheme_name"),
			InstallmentMonths: int(firstFloat(row, "installmentMonths", "installment_months")),
			SchemeType:        SchemeType(firstString(row, "schemeType", "scheme_type")),
			JoiningDate:       firstString(row, "joiningDate", "joining_date", "close_date"),
			TotalSavingsGrams: firstFloat(row, "totalSavingsGrams", "total_savings"),
			RemainingPayments: int(firstFloat(row, "remainingPayments", "remaining_months")),
			PayAmount:         firstFloat(row, "payAmount", "pay_amount"),
		}
		if err := s.validate(); err != nil {
			return nil, ApplicationError(EndpointSchemes, err.Error())
		}
		schemes = append(schemes, s)
	}
	return schemes, nil
}

func (s Scheme) validate() error {
	if s.SchemeCode == "" {
		return fmt.Errorf("scheme record missing scheme code")
	}
	if s.InstallmentMonths <= 0 {
		return fmt.Errorf("scheme %s has invalid installment months %d", s.SchemeCode, s.InstallmentMonths)
	}
	if s.RemainingPayments < 0 || s.RemainingPayments > s.InstallmentMonths {
		return fmt.Errorf("scheme %s has remaining payments %d outside [0, %d]",
			s.SchemeCode, s.RemainingPayments, s.InstallmentMonths)
	}
	return nil
}

func decodeMap(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeSlice(raw json.RawMessage) ([]map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			switch val := v.(type) {
			case string:
				if val != "" {
					return val
				}
			case float64:
				return fmt.Sprintf("%v", val)
			}
		}
	}
	return ""
}

func firstFloat(data map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			switch val := v.(type) {
			case float64:
				if val != 0 {
					return val
				}
			case string:
				var parsed float64
				if _, err := fmt.Sscanf(val, "%g", &parsed); err == nil && parsed != 0 {
					return parsed
				}
			}
		}
	}
	return 0
}
