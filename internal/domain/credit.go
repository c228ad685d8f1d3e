package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ListingStatus string

const (
	ListingDraft     ListingStatus = "draft"
	ListingActive    ListingStatus = "active"
	ListingSoldOut   ListingStatus = "sold-out"
	ListingSuspended ListingStatus = "suspended"
	ListingExpired   ListingStatus = "expired"
)

const (
	MaxTotalCredits   = 1_000_000
	MinPricePerCredit = 0.01
	MaxPricePerCredit = 1000
	maxTitleLength    = 100
	maxDescLength     = 1000
)

var (
	EnergyTypes            = []string{"wind", "solar", "hydro", "geothermal", "biomass", "nuclear", "other"}
	Currencies             = []string{"USD", "EUR", "GBP", "CAD", "AUD"}
	CertificationStandards = []string{"VCS", "Gold Standard", "CAR", "ACR", "CDM", "Other"}
	ProjectTypes           = []string{"renewable-energy", "energy-efficiency", "forest-conservation", "reforestation", "other"}
	ReductionUnits         = []string{"tonnes", "kg", "pounds"}
)

type ProjectLocation struct {
	Country   string   `gorm:"column:country;not null;index" json:"country"`
	State     string   `gorm:"column:state" json:"state,omitempty"`
	City      string   `gorm:"column:city" json:"city,omitempty"`
	Latitude  *float64 `gorm:"column:latitude" json:"latitude,omitempty"`
	Longitude *float64 `gorm:"column:longitude" json:"longitude,omitempty"`
}

type Certification struct {
	Standard          string    `gorm:"column:standard;type:varchar(20);not null;index" json:"standard"`
	Certifier         string    `gorm:"column:certifier;not null" json:"certifier"`
	CertificateNumber string    `gorm:"column:certificate_number;not null" json:"certificateNumber"`
	IssueDate         time.Time `gorm:"column:issue_date;not null" json:"issueDate"`
	ExpiryDate        time.Time `gorm:"column:expiry_date;not null" json:"expiryDate"`
}

type ProjectDetails struct {
	ProjectName           string     `gorm:"column:name;not null" json:"projectName"`
	ProjectType           string     `gorm:"column:type;type:varchar(30);not null" json:"projectType"`
	StartDate             time.Time  `gorm:"column:start_date;not null" json:"startDate"`
	EndDate               *time.Time `gorm:"column:end_date" json:"endDate,omitempty"`
	EstimatedCO2Reduction float64    `gorm:"column:estimated_co2_reduction" json:"estimatedCO2Reduction"`
	Unit                  string     `gorm:"column:unit;type:varchar(10);default:'tonnes'" json:"unit"`
}

type ListingImage struct {
	URL       string `json:"url"`
	Caption   string `json:"caption,omitempty"`
	IsPrimary bool   `json:"isPrimary"`
}

type ListingDocument struct {
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Type       string    `json:"type,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// CreditListing is a seller's offer of a batch of verified carbon credits.
type CreditListing struct {
	ID               uuid.UUID                            `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID         uuid.UUID                            `gorm:"type:uuid;not null;index:idx_credit_seller_status,priority:1" json:"sellerId"`
	Title            string                               `gorm:"size:100;not null" json:"title"`
	Description      string                               `gorm:"size:1000;not null" json:"description"`
	EnergyType       string                               `gorm:"type:varchar(20);not null;index" json:"energyType"`
	Location         ProjectLocation                      `gorm:"embedded;embeddedPrefix:location_" json:"projectLocation"`
	TotalCredits     int                                  `gorm:"not null" json:"totalCredits"`
	AvailableCredits int                                  `gorm:"not null" json:"availableCredits"`
	PricePerCredit   float64                              `gorm:"not null;index" json:"pricePerCredit"`
	Currency         string                               `gorm:"type:varchar(3);default:'USD';not null" json:"currency"`
	Certification    Certification                        `gorm:"embedded;embeddedPrefix:cert_" json:"certification"`
	ProjectDetails   ProjectDetails                       `gorm:"embedded;embeddedPrefix:project_" json:"projectDetails"`
	Images           datatypes.JSONSlice[ListingImage]    `json:"images"`
	Documents        datatypes.JSONSlice[ListingDocument] `json:"documents"`
	Tags             datatypes.JSONSlice[string]          `json:"tags"`
	Status           ListingStatus                        `gorm:"type:varchar(20);default:'draft';not null;index:idx_credit_seller_status,priority:2;index:idx_credit_status_created,priority:1" json:"status"`
	IsVerified       bool                                 `gorm:"default:false;index" json:"isVerified"`
	VerificationDate *time.Time                           `json:"verificationDate,omitempty"`
	VerifiedBy       *uuid.UUID                           `gorm:"type:uuid" json:"verifiedBy,omitempty"`
	ViewCount        int                                  `gorm:"default:0" json:"viewCount"`
	PurchaseCount    int                                  `gorm:"default:0" json:"purchaseCount"`
	AverageRating    float64                              `gorm:"default:0" json:"averageRating"`
	TotalReviews     int                                  `gorm:"default:0" json:"totalReviews"`
	CreatedAt        time.Time                            `gorm:"index:idx_credit_status_created,priority:2" json:"createdAt"`
	UpdatedAt        time.Time                            `json:"updatedAt"`
}

func (CreditListing) TableName() string {
	return "carbon_credits"
}

func (c *CreditListing) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// BeforeSave keeps availableCredits inside [0, totalCredits] and the sold-out flag in step with it.
func (c *CreditListing) BeforeSave(tx *gorm.DB) error {
	c.Normalize()
	return nil
}

// Normalize clamps the available count and flips active/sold-out to match it.
func (c *CreditListing) Normalize() {
	if c.AvailableCredits > c.TotalCredits {
		c.AvailableCredits = c.TotalCredits
	}
	if c.AvailableCredits < 0 {
		c.AvailableCredits = 0
	}
	switch {
	case c.Status == ListingActive && c.AvailableCredits == 0:
		c.Status = ListingSoldOut
	case c.Status == ListingSoldOut && c.AvailableCredits > 0:
		c.Status = ListingActive
	}
}

func (c *CreditListing) TotalValue() float64 {
	return Round2(float64(c.TotalCredits) * c.PricePerCredit)
}

func (c *CreditListing) AvailableValue() float64 {
	return Round2(float64(c.AvailableCredits) * c.PricePerCredit)
}

// IsAvailableForPurchase reports whether qty credits can be bought right now.
func (c *CreditListing) IsAvailableForPurchase(qty int, now time.Time) bool {
	return c.Status == ListingActive &&
		c.IsVerified &&
		qty > 0 &&
		c.AvailableCredits >= qty &&
		!now.After(c.Certification.ExpiryDate)
}

// PurchaseBlocker explains why qty credits cannot be bought; nil when they can.
func (c *CreditListing) PurchaseBlocker(qty int, now time.Time) error {
	switch {
	case c.Status != ListingActive || !c.IsVerified:
		return NewValidationError("Carbon credit is not available for purchase")
	case now.After(c.Certification.ExpiryDate):
		return NewValidationError("Carbon credit certification has expired")
	case qty < 1:
		return NewValidationError("Quantity must be at least 1", FieldError{Field: "quantity", Message: "must be at least 1"})
	case c.AvailableCredits < qty:
		return NewValidationError("insufficient credits", FieldError{Field: "quantity", Message: "exceeds available credits"})
	}
	return nil
}

// Validate checks a listing before it is first stored.
func (c *CreditListing) Validate() error {
	v := NewValidationError("Validation failed")
	title := strings.TrimSpace(c.Title)
	if title == "" {
		v.Add("title", "Title is required")
	} else if len(title) > maxTitleLength {
		v.Add("title", "Title cannot exceed 100 characters")
	}
	desc := strings.TrimSpace(c.Description)
	if desc == "" {
		v.Add("description", "Description is required")
	} else if len(desc) > maxDescLength {
		v.Add("description", "Description cannot exceed 1000 characters")
	}
	if !oneOf(c.EnergyType, EnergyTypes) {
		v.Add("energyType", "Invalid energy type")
	}
	if strings.TrimSpace(c.Location.Country) == "" {
		v.Add("projectLocation.country", "Country is required")
	}
	if c.TotalCredits < 1 || c.TotalCredits > MaxTotalCredits {
		v.Add("totalCredits", "Total credits must be between 1 and 1,000,000")
	}
	if c.AvailableCredits < 0 || c.AvailableCredits > c.TotalCredits {
		v.Add("availableCredits", "Available credits must be between 0 and total credits")
	}
	if c.PricePerCredit < MinPricePerCredit || c.PricePerCredit > MaxPricePerCredit {
		v.Add("pricePerCredit", "Price per credit must be between 0.01 and 1000")
	}
	if !oneOf(c.Currency, Currencies) {
		v.Add("currency", "Invalid currency")
	}
	if !oneOf(c.Certification.Standard, CertificationStandards) {
		v.Add("certification.standard", "Invalid certification standard")
	}
	if strings.TrimSpace(c.Certification.Certifier) == "" {
		v.Add("certification.certifier", "Certifier is required")
	}
	if strings.TrimSpace(c.Certification.CertificateNumber) == "" {
		v.Add("certification.certificateNumber", "Certificate number is required")
	}
	if c.Certification.IssueDate.IsZero() {
		v.Add("certification.issueDate", "Issue date is required")
	}
	if c.Certification.ExpiryDate.IsZero() {
		v.Add("certification.expiryDate", "Expiry date is required")
	} else if !c.Certification.IssueDate.IsZero() && c.Certification.ExpiryDate.Before(c.Certification.IssueDate) {
		v.Add("certification.expiryDate", "Expiry date must be after issue date")
	}
	if strings.TrimSpace(c.ProjectDetails.ProjectName) == "" {
		v.Add("projectDetails.projectName", "Project name is required")
	}
	if !oneOf(c.ProjectDetails.ProjectType, ProjectTypes) {
		v.Add("projectDetails.projectType", "Invalid project type")
	}
	if c.ProjectDetails.StartDate.IsZero() {
		v.Add("projectDetails.startDate", "Project start date is required")
	}
	if c.ProjectDetails.EstimatedCO2Reduction < 0 {
		v.Add("projectDetails.estimatedCO2Reduction", "Estimated CO2 reduction cannot be negative")
	}
	if c.ProjectDetails.Unit != "" && !oneOf(c.ProjectDetails.Unit, ReductionUnits) {
		v.Add("projectDetails.unit", "Invalid unit")
	}
	return v.OrNil()
}

func oneOf(s string, options []string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
