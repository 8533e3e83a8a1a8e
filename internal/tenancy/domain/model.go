// Package domain holds the property-management reference models the billing
// engine reads. CRUD over these lives in the main application; the engine
// only queries them.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrTenantNotFound = errors.New("tenant_not_found")
	ErrUnitNotFound   = errors.New("unit_not_found")
)

type Landlord struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Mobile    string       `json:"mobile" gorm:"type:text"`
	Email     string       `json:"email" gorm:"type:text"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Landlord) TableName() string { return "landlords" }

type Property struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	LandlordID snowflake.ID `json:"landlord_id" gorm:"not null;index"`
	Name       string       `json:"name" gorm:"type:text;not null"`
	// Code is the short merchant code tenants quote when paying, e.g. "NYB12".
	Code      string    `json:"code" gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
}

func (Property) TableName() string { return "properties" }

type Unit struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	PropertyID snowflake.ID `json:"property_id" gorm:"not null;index"`
	Label      string       `json:"label" gorm:"type:text;not null"`
	Occupied   bool         `json:"occupied" gorm:"not null;default:false"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (Unit) TableName() string { return "units" }

type Tenant struct {
	ID         snowflake.ID  `json:"id" gorm:"primaryKey"`
	LandlordID snowflake.ID  `json:"landlord_id" gorm:"not null;index"`
	UnitID     *snowflake.ID `json:"unit_id" gorm:"index"`
	FullName   string        `json:"full_name" gorm:"type:text;not null"`
	// Mobile is stored normalized to the 254 international prefix.
	Mobile    string    `json:"mobile" gorm:"type:text;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (Tenant) TableName() string { return "tenants" }

// NormalizeMobile maps the common Kenyan formats ("0708...", "+254708...",
// "254708...", "708...") onto the canonical 254 prefix.
func NormalizeMobile(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "254"):
		return digits
	case strings.HasPrefix(digits, "0"):
		return "254" + digits[1:]
	case len(digits) == 9:
		return "254" + digits
	default:
		return digits
	}
}
