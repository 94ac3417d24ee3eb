package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
)

// Wire shapes for criteria supplied by dashboards. Unknown keys and unknown
// predicate shapes are rejected at this boundary rather than passed through.
type criteriaPayload struct {
	Numeric     []numericPayload     `json:"numeric,omitempty"`
	Categorical []categoricalPayload `json:"categorical,omitempty"`
	Window      *windowPayload       `json:"window,omitempty"`
	Query       string               `json:"query,omitempty"`
}

type numericPayload struct {
	Field        string  `json:"field"`
	Op           string  `json:"op"`
	Value        float64 `json:"value"`
	IgnoreAbsent bool    `json:"ignore_absent,omitempty"`
}

type categoricalPayload struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

type windowPayload struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
	Range string     `json:"range,omitempty"`
}

// ParseCriteria decodes and validates a JSON criteria document. Malformed
// clauses are reported as *domain.ValidationError identifying the offending
// clause.
func ParseCriteria(data []byte) (Criteria, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Criteria{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var payload criteriaPayload
	if err := dec.Decode(&payload); err != nil {
		return Criteria{}, &domain.ValidationError{Field: "filter", Constraint: "invalid criteria document", Value: err.Error()}
	}

	var c Criteria
	for i, p := range payload.Numeric {
		clause := fmt.Sprintf("numeric[%d]", i)
		field, ok := validNumericField(p.Field)
		if !ok {
			return Criteria{}, &domain.ValidationError{Field: clause, Constraint: "unknown metric field", Value: p.Field}
		}
		op, err := ParseOp(p.Op)
		if err != nil {
			return Criteria{}, &domain.ValidationError{Field: clause, Constraint: "unknown operator", Value: p.Op}
		}
		c.Numeric = append(c.Numeric, NumericPredicate{
			Field:        field,
			Op:           op,
			Value:        p.Value,
			IgnoreAbsent: p.IgnoreAbsent,
		})
	}
	for i, p := range payload.Categorical {
		if p.Tag == "" {
			return Criteria{}, &domain.ValidationError{Field: fmt.Sprintf("categorical[%d]", i), Constraint: "tag must not be empty"}
		}
		c.Categorical = append(c.Categorical, CategoricalPredicate{Tag: p.Tag, Value: p.Value})
	}
	if payload.Window != nil {
		w, err := parseWindow(*payload.Window)
		if err != nil {
			return Criteria{}, err
		}
		c.Window = w
	}
	if q := ParseTextQuery(payload.Query); q != nil {
		c.Text = q
	}
	return c, nil
}

func parseWindow(p windowPayload) (*TimeWindow, error) {
	if p.Range != "" {
		if p.Start != nil || p.End != nil {
			return nil, &domain.ValidationError{Field: "window", Constraint: "named range and explicit bounds are mutually exclusive"}
		}
		if _, err := ParseNamedRange(p.Range); err != nil {
			return nil, &domain.ValidationError{Field: "window.range", Constraint: "invalid named range", Value: p.Range}
		}
		return &TimeWindow{Named: p.Range}, nil
	}
	if p.Start == nil && p.End == nil {
		return nil, &domain.ValidationError{Field: "window", Constraint: "requires a named range or at least one bound"}
	}
	if p.Start != nil && p.End != nil && !p.Start.Before(*p.End) {
		return nil, &domain.ValidationError{Field: "window", Constraint: "start must be before end"}
	}
	return &TimeWindow{Start: p.Start, End: p.End}, nil
}

// MarshalCriteria serializes criteria back to the wire shape, for preset
// storage.
func MarshalCriteria(c Criteria) ([]byte, error) {
	payload := criteriaPayload{Query: c.Text.String()}
	for _, p := range c.Numeric {
		field := p.Field
		if _, ok := validNumericField(field); !ok {
			field = "custom." + field
		}
		payload.Numeric = append(payload.Numeric, numericPayload{
			Field:        field,
			Op:           string(p.Op),
			Value:        p.Value,
			IgnoreAbsent: p.IgnoreAbsent,
		})
	}
	for _, p := range c.Categorical {
		payload.Categorical = append(payload.Categorical, categoricalPayload{Tag: p.Tag, Value: p.Value})
	}
	if c.Window != nil {
		payload.Window = &windowPayload{Start: c.Window.Start, End: c.Window.End, Range: c.Window.Named}
	}
	return json.Marshal(payload)
}
