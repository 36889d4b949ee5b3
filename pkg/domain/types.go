package domain

import "time"

type UserRole string

const (
	RoleAdmin UserRole = "admin_role"
	RoleSales UserRole = "sales_role"
)

// User is one entry of the user directory. JSON field names are part of the
// on-disk contract: the directory file must stay readable next to files
// written by earlier versions of the app.
type User struct {
	Name           string    `json:"name"`
	Surname        string    `json:"surname"`
	Email          string    `json:"email"`
	Company        string    `json:"company,omitempty"`
	Role           UserRole  `json:"role"`
	IsActive       bool      `json:"is_active"`
	ActivationCode string    `json:"activation_code,omitempty"`
	LoginCode      string    `json:"login_code,omitempty"`
	OTPExpiresAt   time.Time `json:"otp_expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Customer values accepted for forecast documents.
const (
	CustomerNavistar = "Navistar"
	CustomerVolvo    = "Volvo"
	CustomerMan      = "Man"
)

// ValidCustomer reports whether c is one of the known forecast customers.
func ValidCustomer(c string) bool {
	switch c {
	case CustomerNavistar, CustomerVolvo, CustomerMan:
		return true
	default:
		return false
	}
}

// ForecastRow is one demand line of an EDI forecast file. Index is assigned
// at parse time, 1-based in input order, and never persisted.
type ForecastRow struct {
	Index        int    `json:"Index,omitempty"`
	OrderHyd     string `json:"ORD.HYD"`
	CustomerCode string `json:"COD.CLIENTE"`
	ArticleCode  string `json:"COD. ART"`
	Description  string `json:"DESCRIZIONE"`
	OcliGare     string `json:"OCLI GARE"`
	Quantity     string `json:"QUANTITA"`
	Delivery     string `json:"CONSEGNA"`
	OrderVen     string `json:"ORD.VEN"`
}

// ForecastDocument is the persisted unit: one JSON file per saved upload.
type ForecastDocument struct {
	Customer         string        `json:"customer"`
	Timestamp        string        `json:"timestamp"`
	OriginalFilename string        `json:"original_filename"`
	Records          []ForecastRow `json:"records"`
}
