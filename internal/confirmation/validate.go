package confirmation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MinPhoneLength is the shortest accepted contact phone, counting every
// allowed character.
const MinPhoneLength = 10

// DisplayLayout formats Appointment.Display when the input omits it.
const DisplayLayout = "2006-01-02 15:04"

var phonePattern = regexp.MustCompile(`^\+?[0-9()\-\s]+$`)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// raw mirrors the input shape with the acceptance rules as struct tags.
type raw struct {
	CustomerID   string         `json:"customerId" validate:"required"`
	StoreName    string         `json:"storeName" validate:"required"`
	Email        string         `json:"email" validate:"omitempty,email"`
	Phone        string         `json:"phone"`
	Location     string         `json:"location"`
	Product      rawProduct     `json:"product"`
	Appointment  rawAppointment `json:"appointment"`
	Issue        string         `json:"issue" validate:"required"`
	ContactName  string         `json:"contactName" validate:"required"`
	ContactPhone string         `json:"contactPhone" validate:"required,phone"`
	MachineLabel string         `json:"machineLabel" validate:"required"`
}

type rawProduct struct {
	ProductID string `json:"productId"`
	Category  string `json:"category"`
	Model     string `json:"model"`
	Serial    string `json:"serial"`
	Warranty  string `json:"warranty"`
}

type rawAppointment struct {
	DateTimeISO string `json:"dateTimeISO" validate:"required,iso8601"`
	Display     string `json:"display"`
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("phone", validatePhone)
	_ = validate.RegisterValidation("iso8601", validateISO8601)
}

func validatePhone(fl validator.FieldLevel) bool {
	phone := fl.Field().String()
	return len(phone) >= MinPhoneLength && phonePattern.MatchString(phone)
}

func validateISO8601(fl validator.FieldLevel) bool {
	_, err := ParseDateTime(fl.Field().String())
	return err == nil
}

// ParseDateTime parses an ISO-8601 datetime. Values without a zone are read
// as UTC.
func ParseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO-8601 datetime: %q", s)
}

// Validate checks a raw JSON confirmation and returns the validated context.
// On rejection the error is a *ValidationError naming every violated field.
func Validate(input []byte) (*Context, error) {
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return nil, &ValidationError{Fields: []FieldError{{
			Rule:    "json",
			Message: "is not valid JSON: " + err.Error(),
		}}}
	}
	if _, ok := decoded.(map[string]any); !ok {
		return nil, &ValidationError{Fields: []FieldError{{
			Rule:    "type",
			Message: "must be a JSON object",
		}}}
	}

	typed, err := typeErrors(decoded)
	if err != nil {
		return nil, fmt.Errorf("confirmation schema: %w", err)
	}

	// Mistyped values are skipped by Unmarshal and already reported above.
	var r raw
	if err := json.Unmarshal(input, &r); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, &ValidationError{Fields: []FieldError{{Rule: "json", Message: err.Error()}}}
		}
	}
	r.normalize()

	verr := &ValidationError{}
	for _, fe := range typed {
		verr.Fields = append(verr.Fields, fe)
	}
	if err := validate.Struct(&r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("confirmation rules: %w", err)
		}
		for _, fe := range fieldErrs {
			field := fieldPath(fe)
			if mistyped(typed, field) {
				continue
			}
			verr.Fields = append(verr.Fields, FieldError{
				Field:   field,
				Rule:    fe.Tag(),
				Message: ruleMessage(fe),
			})
		}
	}
	if len(verr.Fields) > 0 {
		verr.sort()
		return nil, verr
	}

	return r.context(), nil
}

// ValidateValue validates an already decoded value, such as tool arguments.
func ValidateValue(v any) (*Context, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode confirmation: %w", err)
	}
	return Validate(data)
}

func (r *raw) normalize() {
	for _, s := range []*string{
		&r.CustomerID, &r.StoreName, &r.Email, &r.Phone, &r.Location,
		&r.Product.ProductID, &r.Product.Category, &r.Product.Model, &r.Product.Serial, &r.Product.Warranty,
		&r.Appointment.DateTimeISO, &r.Appointment.Display,
		&r.Issue, &r.ContactName, &r.ContactPhone, &r.MachineLabel,
	} {
		*s = strings.TrimSpace(*s)
	}
}

func (r *raw) context() *Context {
	at, _ := ParseDateTime(r.Appointment.DateTimeISO)
	display := r.Appointment.Display
	if display == "" {
		display = at.Format(DisplayLayout)
	}
	return &Context{
		CustomerID: r.CustomerID,
		StoreName:  r.StoreName,
		Email:      r.Email,
		Phone:      r.Phone,
		Location:   r.Location,
		Product: Product{
			ProductID: r.Product.ProductID,
			Category:  r.Product.Category,
			Model:     r.Product.Model,
			Serial:    r.Product.Serial,
			Warranty:  r.Product.Warranty,
		},
		Appointment: Appointment{
			DateTimeISO: r.Appointment.DateTimeISO,
			Display:     display,
			At:          at,
		},
		Issue:        r.Issue,
		ContactName:  r.ContactName,
		ContactPhone: r.ContactPhone,
		MachineLabel: r.MachineLabel,
	}
}

// mistyped reports whether field or one of its parents failed a type check.
func mistyped(typed map[string]FieldError, field string) bool {
	for {
		if _, ok := typed[field]; ok {
			return true
		}
		i := strings.LastIndex(field, ".")
		if i < 0 {
			return false
		}
		field = field[:i]
	}
}

// fieldPath turns "raw.appointment.dateTimeISO" into "appointment.dateTimeISO".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return fmt.Sprintf("must contain only digits, spaces, '+', '-', '(' or ')' and be at least %d characters", MinPhoneLength)
	case "iso8601":
		return "must be an ISO-8601 datetime"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed rule " + fe.Tag()
	}
}
