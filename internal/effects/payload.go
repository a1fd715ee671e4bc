package effects

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/servicedesk/internal/confirmation"
)

// RepairIDPrefix prefixes the customer id to form the repair id.
const RepairIDPrefix = "REP_SCHEDULED_"

// Fixed row values. They are not derived from the confirmation.
const (
	DefaultStatus        = "unhandled"
	DefaultVisitRequired = "required"
	DefaultPriority      = "medium"
	DefaultHandler       = "AI"
)

// Kind names a sink payload type.
type Kind string

const (
	KindRow      Kind = "row"
	KindCalendar Kind = "calendar"
)

// Payload is what a sink writes.
type Payload interface {
	Kind() Kind
	RepairID() string
}

// RepairIDFor derives the repair id for a customer. Re-confirming the same
// customer yields the same id, so sinks upsert by it.
func RepairIDFor(customerID string) string {
	return RepairIDPrefix + customerID
}

// Row is the tabular log record. Absent optional values are empty strings.
type Row struct {
	CustomerID      string
	CompanyName     string
	Email           string
	Phone           string
	Location        string
	ProductID       string
	ProductCategory string
	Model           string
	SerialNumber    string
	WarrantyStatus  string
	Repair          string
	Date            string
	Issue           string
	Status          string
	VisitRequired   string
	Priority        string
	Handler         string
	ContactName     string
	ContactPhone    string
	PreferredDate   string
	Machine         string
}

func (r Row) Kind() Kind       { return KindRow }
func (r Row) RepairID() string { return r.Repair }

// Column is one named cell of a Row.
type Column struct {
	Name  string
	Value string
}

// columns is the single mapping between Row fields and external column names.
func (r *Row) columns() []struct {
	name  string
	field *string
} {
	return []struct {
		name  string
		field *string
	}{
		{"Customer ID", &r.CustomerID},
		{"Company Name", &r.CompanyName},
		{"Email", &r.Email},
		{"Phone", &r.Phone},
		{"Location", &r.Location},
		{"Product ID", &r.ProductID},
		{"Product Category", &r.ProductCategory},
		{"Model", &r.Model},
		{"Serial Number", &r.SerialNumber},
		{"Warranty Status", &r.WarrantyStatus},
		{"Repair ID", &r.Repair},
		{"Date", &r.Date},
		{"Issue", &r.Issue},
		{"Status", &r.Status},
		{"Visit Required", &r.VisitRequired},
		{"Priority", &r.Priority},
		{"Handler", &r.Handler},
		{"Contact Name", &r.ContactName},
		{"Contact Phone", &r.ContactPhone},
		{"Preferred Date", &r.PreferredDate},
		{"Machine", &r.Machine},
	}
}

// Columns returns the row in external column order.
func (r Row) Columns() []Column {
	cols := r.columns()
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = Column{Name: c.name, Value: *c.field}
	}
	return out
}

// MarshalJSON encodes the row as an object keyed by column name, in column
// order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns() {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(c.Name)
		value, _ := json.Marshal(c.Value)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keyed by column name.
func (r *Row) UnmarshalJSON(data []byte) error {
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	for _, c := range r.columns() {
		*c.field = values[c.name]
	}
	return nil
}

// CalendarEvent is the calendar entry for the visit.
type CalendarEvent struct {
	Title         string `json:"title"`
	Text          string `json:"text"`
	StartISO      string `json:"start"`
	Location      string `json:"location,omitempty"`
	AttendeeEmail string `json:"attendeeEmail,omitempty"`
	CalendarID    string `json:"calendarId,omitempty"`
	Repair        string `json:"repairId"`
}

func (e CalendarEvent) Kind() Kind       { return KindCalendar }
func (e CalendarEvent) RepairID() string { return e.Repair }

// Builder derives sink payloads from a validated confirmation. Both methods
// are pure: equal inputs give byte-identical payloads.
type Builder struct {
	// CalendarID is the destination calendar; empty means the default.
	CalendarID string
}

// BuildRow derives the tabular row.
func (b Builder) BuildRow(c *confirmation.Context) Row {
	return Row{
		CustomerID:      c.CustomerID,
		CompanyName:     c.StoreName,
		Email:           c.Email,
		Phone:           c.Phone,
		Location:        c.Location,
		ProductID:       c.Product.ProductID,
		ProductCategory: c.Product.Category,
		Model:           c.Product.Model,
		SerialNumber:    c.Product.Serial,
		WarrantyStatus:  c.Product.Warranty,
		Repair:          RepairIDFor(c.CustomerID),
		Date:            c.Appointment.Display,
		Issue:           c.Issue,
		Status:          DefaultStatus,
		VisitRequired:   DefaultVisitRequired,
		Priority:        DefaultPriority,
		Handler:         DefaultHandler,
		ContactName:     c.ContactName,
		ContactPhone:    c.ContactPhone,
		PreferredDate:   c.Appointment.Display,
		Machine:         c.MachineLabel,
	}
}

// BuildCalendarEvent derives the calendar event.
func (b Builder) BuildCalendarEvent(c *confirmation.Context) CalendarEvent {
	title := fmt.Sprintf("Repair visit: %s @ %s", c.MachineLabel, c.StoreName)

	var text strings.Builder
	text.WriteString(title)
	text.WriteString(" on ")
	text.WriteString(c.Appointment.DateTimeISO)
	if c.Location != "" {
		text.WriteString("\nLocation: ")
		text.WriteString(c.Location)
	}
	fmt.Fprintf(&text, "\nContact: %s (%s)", c.ContactName, c.ContactPhone)
	text.WriteString("\nCustomer ID: ")
	text.WriteString(c.CustomerID)

	return CalendarEvent{
		Title:         title,
		Text:          text.String(),
		StartISO:      c.Appointment.DateTimeISO,
		Location:      c.Location,
		AttendeeEmail: c.Email,
		CalendarID:    b.CalendarID,
		Repair:        RepairIDFor(c.CustomerID),
	}
}

// DecodePayload restores a payload serialized with encoding/json.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindRow:
		var row Row
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, err
		}
		return row, nil
	case KindCalendar:
		var event CalendarEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("decode calendar event: %w", err)
		}
		return event, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}
}
