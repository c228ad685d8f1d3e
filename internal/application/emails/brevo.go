package emails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const brevoAPI = "https://api.brevo.com/v3/smtp/email"

// BrevoSendRequest matches Brevo API v3 send transactional email body.
type BrevoSendRequest struct {
	Sender      BrevoContact   `json:"sender"`
	To          []BrevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

type BrevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// TransactionSummary is what the purchase confirmation shows.
type TransactionSummary struct {
	Reference      string
	ProjectName    string
	Quantity       int
	PricePerCredit float64
	TotalAmount    float64
	Currency       string
	URL            string
}

// Sender sends transactional emails.
type Sender interface {
	SendWelcome(ctx context.Context, toEmail, firstName string) error
	SendVerification(ctx context.Context, toEmail, firstName, token string) error
	SendPasswordReset(ctx context.Context, toEmail, firstName, token string, ttl time.Duration) error
	SendTransactionConfirmation(ctx context.Context, toEmail, firstName string, s TransactionSummary) error
	SendNotification(ctx context.Context, toEmail, subject, message string) error
}

// BrevoClient sends emails via the Brevo (Sendinblue) API. An empty APIKey turns every send into a no-op.
type BrevoClient struct {
	APIKey    string
	MailFrom  string
	ClientURL string
	Endpoint  string
	Client    *http.Client
}

func NewBrevoClient(apiKey, mailFrom, clientURL string) *BrevoClient {
	return &BrevoClient{
		APIKey:    apiKey,
		MailFrom:  mailFrom,
		ClientURL: clientURL,
		Client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *BrevoClient) from() string {
	if c.MailFrom != "" {
		return c.MailFrom
	}
	return "noreply@carbonease.com"
}

func (c *BrevoClient) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return brevoAPI
}

// send sends one email via Brevo API.
func (c *BrevoClient) send(ctx context.Context, toEmail, subject, html string) error {
	if c.APIKey == "" {
		return nil
	}
	body := BrevoSendRequest{
		Sender:      BrevoContact{Email: c.from(), Name: "Carbonease"},
		To:          []BrevoContact{{Email: toEmail}},
		Subject:     subject,
		HTMLContent: html,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("brevo send failed: status %d", resp.StatusCode)
	}
	return nil
}

func nameOr(firstName string) string {
	if firstName == "" {
		return "there"
	}
	return firstName
}

func (c *BrevoClient) SendWelcome(ctx context.Context, toEmail, firstName string) error {
	return c.send(ctx, toEmail, "Welcome to Carbonease!",
		EmailLayout("Carbon Credit Trading Platform", welcomeContent(nameOr(firstName), c.ClientURL+"/marketplace")))
}

// SendVerification links to the frontend verify page, which calls GET /api/auth/verify-email/:token.
func (c *BrevoClient) SendVerification(ctx context.Context, toEmail, firstName, token string) error {
	url := c.ClientURL + "/auth/verify-email/" + token
	return c.send(ctx, toEmail, "Verify Your Email - Carbonease",
		EmailLayout("Carbon Credit Trading Platform", verificationContent(nameOr(firstName), url)))
}

func (c *BrevoClient) SendPasswordReset(ctx context.Context, toEmail, firstName, token string, ttl time.Duration) error {
	url := c.ClientURL + "/auth/reset-password/" + token
	return c.send(ctx, toEmail, "Reset Your Password - Carbonease",
		EmailLayout("Password Reset Request", passwordResetContent(nameOr(firstName), url, ttl)))
}

func (c *BrevoClient) SendTransactionConfirmation(ctx context.Context, toEmail, firstName string, s TransactionSummary) error {
	if s.URL == "" {
		s.URL = c.ClientURL + "/dashboard/transactions"
	}
	return c.send(ctx, toEmail, "Transaction Confirmation - "+s.Reference,
		EmailLayout("Transaction Confirmation", transactionContent(nameOr(firstName), s)))
}

func (c *BrevoClient) SendNotification(ctx context.Context, toEmail, subject, message string) error {
	return c.send(ctx, toEmail, subject, EmailLayout(subject, notificationContent(message)))
}

// Nop discards every email.
type Nop struct{}

func (Nop) SendWelcome(context.Context, string, string) error              { return nil }
func (Nop) SendVerification(context.Context, string, string, string) error { return nil }
func (Nop) SendNotification(context.Context, string, string, string) error { return nil }
func (Nop) SendPasswordReset(context.Context, string, string, string, time.Duration) error {
	return nil
}
func (Nop) SendTransactionConfirmation(context.Context, string, string, TransactionSummary) error {
	return nil
}
