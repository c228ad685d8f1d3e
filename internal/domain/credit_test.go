package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validListing() *CreditListing {
	now := time.Now()
	return &CreditListing{
		SellerID:         uuid.New(),
		Title:            "Wind farm credits",
		Description:      "Credits from a 40MW coastal wind farm",
		EnergyType:       "wind",
		Location:         ProjectLocation{Country: "Denmark"},
		TotalCredits:     1000,
		AvailableCredits: 1000,
		PricePerCredit:   12.5,
		Currency:         "EUR",
		Certification: Certification{
			Standard:          "VCS",
			Certifier:         "Verra",
			CertificateNumber: "VCS-001",
			IssueDate:         now.AddDate(-1, 0, 0),
			ExpiryDate:        now.AddDate(2, 0, 0),
		},
		ProjectDetails: ProjectDetails{
			ProjectName: "North Sea Wind",
			ProjectType: "renewable-energy",
			StartDate:   now.AddDate(-3, 0, 0),
			Unit:        "tonnes",
		},
	}
}

func TestCreditListing_Validate(t *testing.T) {
	require.NoError(t, validListing().Validate())

	c := validListing()
	c.TotalCredits = 0
	c.PricePerCredit = 1001
	c.EnergyType = "coal"
	c.Currency = "JPY"
	err := c.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["totalCredits"])
	assert.True(t, fields["pricePerCredit"])
	assert.True(t, fields["energyType"])
	assert.True(t, fields["currency"])
}

func TestCreditListing_NormalizeClampsAndFlipsStatus(t *testing.T) {
	c := &CreditListing{TotalCredits: 10, AvailableCredits: 15, Status: ListingActive}
	c.Normalize()
	assert.Equal(t, 10, c.AvailableCredits)
	assert.Equal(t, ListingActive, c.Status)

	c.AvailableCredits = 0
	c.Normalize()
	assert.Equal(t, ListingSoldOut, c.Status)

	c.AvailableCredits = 4
	c.Normalize()
	assert.Equal(t, ListingActive, c.Status)

	draft := &CreditListing{TotalCredits: 10, AvailableCredits: -1, Status: ListingDraft}
	draft.Normalize()
	assert.Equal(t, 0, draft.AvailableCredits)
	assert.Equal(t, ListingDraft, draft.Status)
}

func TestCreditListing_PurchaseBlocker(t *testing.T) {
	now := time.Now()
	c := newListing()
	assert.NoError(t, c.PurchaseBlocker(800, now))
	assert.True(t, c.IsAvailableForPurchase(800, now))

	err := c.PurchaseBlocker(900, now)
	require.Error(t, err)
	assert.Equal(t, "insufficient credits", err.Error())
	assert.False(t, c.IsAvailableForPurchase(900, now))

	c.IsVerified = false
	assert.Error(t, c.PurchaseBlocker(1, now))

	c.IsVerified = true
	c.Certification.ExpiryDate = now.Add(-time.Hour)
	assert.EqualError(t, c.PurchaseBlocker(1, now), "Carbon credit certification has expired")
}

func TestCreditListing_Values(t *testing.T) {
	c := newListing()
	assert.Equal(t, 25500.0, c.TotalValue())
	assert.Equal(t, 20400.0, c.AvailableValue())
}
