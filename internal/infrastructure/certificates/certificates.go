package certificates

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/jung-kurt/gofpdf"
)

const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NumberGenerator returns unique certificate numbers such as CERT-7KQ2M9XH4TZP.
type NumberGenerator func() string

func NewNumberGenerator() (NumberGenerator, error) {
	gen, err := nanoid.CustomASCII(numberAlphabet, 12)
	if err != nil {
		return nil, err
	}
	return func() string { return "CERT-" + gen() }, nil
}

// Data is everything printed on a retirement certificate.
type Data struct {
	CertificateNumber string
	TransactionRef    string
	BuyerName         string
	SellerName        string
	ProjectName       string
	ProjectCountry    string
	EnergyType        string
	Standard          string
	RegistryNumber    string
	Quantity          int
	Unit              string
	TotalAmount       float64
	Currency          string
	IssueDate         time.Time
	ExpiryDate        *time.Time
}

// Render draws a one-page landscape A4 certificate.
func Render(d Data) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Carbon Credit Certificate "+d.CertificateNumber, false)
	pdf.SetAuthor("Carbonease", false)
	pdf.AddPage()

	pdf.SetDrawColor(0, 116, 115)
	pdf.SetLineWidth(1.5)
	pdf.Rect(10, 10, 277, 190, "D")
	pdf.SetLineWidth(0.4)
	pdf.Rect(14, 14, 269, 182, "D")

	pdf.SetY(30)
	pdf.SetTextColor(0, 116, 115)
	pdf.SetFont("Helvetica", "B", 28)
	pdf.CellFormat(0, 14, "Carbon Credit Certificate", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 8, "Certificate No. "+d.CertificateNumber, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetTextColor(31, 41, 55)
	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, d.BuyerName, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 14)
	unit := d.Unit
	if unit == "" {
		unit = "tonnes"
	}
	pdf.CellFormat(0, 8, fmt.Sprintf("has acquired %d carbon credits (%s CO2e) from", d.Quantity, unit), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, d.ProjectName, "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Transaction", d.TransactionRef},
		{"Seller", d.SellerName},
		{"Energy type", capitalize(d.EnergyType)},
		{"Location", d.ProjectCountry},
		{"Standard", d.Standard},
		{"Registry certificate", d.RegistryNumber},
		{"Amount", fmt.Sprintf("%.2f %s", d.TotalAmount, d.Currency)},
		{"Issued", d.IssueDate.Format("2 January 2006")},
	}
	if d.ExpiryDate != nil {
		rows = append(rows, [2]string{"Valid until", d.ExpiryDate.Format("2 January 2006")})
	}
	for _, r := range rows {
		pdf.SetX(80)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(55, 7, r[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(80, 7, r[1], "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
