package confirmation

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalid is matched by every *ValidationError.
var ErrInvalid = errors.New("invalid confirmation")

// FieldError is one violated rule.
type FieldError struct {
	// Field is the dotted JSON path, e.g. "appointment.dateTimeISO".
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every violation found in one input.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return ErrInvalid.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Has reports whether field was rejected.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// FieldNames returns the rejected fields in report order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}

var fieldOrder = map[string]int{
	"customerId":              0,
	"storeName":               1,
	"email":                   2,
	"phone":                   3,
	"location":                4,
	"product":                 5,
	"appointment":             6,
	"appointment.dateTimeISO": 7,
	"appointment.display":     8,
	"issue":                   9,
	"contactName":             10,
	"contactPhone":            11,
	"machineLabel":            12,
}

func (e *ValidationError) sort() {
	sort.SliceStable(e.Fields, func(i, j int) bool {
		oi, iok := fieldOrder[e.Fields[i].Field]
		oj, jok := fieldOrder[e.Fields[j].Field]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return e.Fields[i].Field < e.Fields[j].Field
		}
	})
}
