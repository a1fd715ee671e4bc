// Package confirmation validates appointment confirmations before any side
// effect is attempted. It is the only stage of the pipeline allowed to reject
// input; a *Context it returns is internally consistent and is never
// re-checked downstream.
package confirmation

import "time"

// Product describes the serviced machine. Every field is optional.
type Product struct {
	ProductID string `json:"productId,omitempty"`
	Category  string `json:"category,omitempty"`
	Model     string `json:"model,omitempty"`
	Serial    string `json:"serial,omitempty"`
	Warranty  string `json:"warranty,omitempty"`
}

// Appointment is the confirmed visit slot.
type Appointment struct {
	DateTimeISO string `json:"dateTimeISO"`
	Display     string `json:"display"`

	// At is DateTimeISO parsed.
	At time.Time `json:"-"`
}

// Context is a validated appointment confirmation.
type Context struct {
	CustomerID   string      `json:"customerId"`
	StoreName    string      `json:"storeName"`
	Email        string      `json:"email,omitempty"`
	Phone        string      `json:"phone,omitempty"`
	Location     string      `json:"location,omitempty"`
	Product      Product     `json:"product"`
	Appointment  Appointment `json:"appointment"`
	Issue        string      `json:"issue"`
	ContactName  string      `json:"contactName"`
	ContactPhone string      `json:"contactPhone"`
	MachineLabel string      `json:"machineLabel"`
}
