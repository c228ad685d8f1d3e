package emails

import (
	"fmt"
	"html"
	"time"
)

const (
	themePrimary   = "#1F7A4D"
	themeTextMain  = "#1F2937"
	themeTextMuted = "#6B7280"
	themeBgBody    = "#F3F4F6"
	themeWhite     = "#FFFFFF"
)

// EmailLayout wraps content in the branded Carbonease shell.
func EmailLayout(subtitle, contentHTML string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Carbonease</title>
  <style>
    body { margin: 0; padding: 0; background-color: %s; font-family: Arial, Helvetica, sans-serif; color: %s; }
    .content-body p { margin: 0 0 20px 0; font-size: 16px; line-height: 1.6; color: #374151; }
    .content-body h2 { color: #111827; font-size: 22px; margin: 0 0 18px 0; }
    .ce-button { display: inline-block; background-color: %s; color: #ffffff !important; padding: 12px 30px; text-decoration: none; border-radius: 6px; font-weight: 700; }
    .ce-link { color: #2563EB; word-break: break-all; background: #E9ECEF; padding: 10px; border-radius: 4px; display: block; }
    .ce-table td { padding: 6px 0; font-size: 15px; }
  </style>
</head>
<body>
  <table role="presentation" width="100%%" cellspacing="0" cellpadding="0" style="background-color: %s;">
    <tr><td align="center" style="padding: 32px 0;">
      <table role="presentation" width="600" cellspacing="0" cellpadding="0" style="background-color: %s; border-radius: 8px; overflow: hidden;">
        <tr><td align="center" style="background: %s; padding: 28px;">
          <h1 style="color: #ffffff; margin: 0; font-size: 28px;">Carbonease</h1>
          <p style="color: #ffffff; margin: 8px 0 0 0;">%s</p>
        </td></tr>
        <tr><td class="content-body" style="padding: 32px 40px;">%s</td></tr>
        <tr><td align="center" style="background: #343A40; padding: 18px;">
          <p style="color: #ADB5BD; margin: 0; font-size: 13px;">© %d Carbonease. All rights reserved.</p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`,
		themeBgBody, themeTextMain, themePrimary, themeBgBody, themeWhite, themePrimary,
		html.EscapeString(subtitle), contentHTML, time.Now().Year())
}

func actionBlock(label, url string) string {
	u := html.EscapeString(url)
	return fmt.Sprintf(`
    <p style="text-align: center; margin: 28px 0;"><a href="%s" class="ce-button">%s</a></p>
    <p>If the button doesn't work, copy and paste this link into your browser:</p>
    <p><span class="ce-link">%s</span></p>`, u, html.EscapeString(label), u)
}

func verificationContent(firstName, url string) string {
	return fmt.Sprintf(`
    <h2>Welcome to Carbonease, %s!</h2>
    <p>To complete your registration and start trading carbon credits, please verify your email address.</p>%s
    <p style="font-size: 14px; color: %s;">If you didn't create an account with Carbonease, please ignore this email.</p>`,
		html.EscapeString(firstName), actionBlock("Verify Email Address", url), themeTextMuted)
}

func welcomeContent(firstName, marketplaceURL string) string {
	return fmt.Sprintf(`
    <h2>Welcome aboard, %s!</h2>
    <p>Your Carbonease account is ready. Browse verified renewable energy projects and offset your footprint today.</p>
    <p style="text-align: center; margin: 28px 0;"><a href="%s" class="ce-button">Explore the Marketplace</a></p>`,
		html.EscapeString(firstName), html.EscapeString(marketplaceURL))
}

func passwordResetContent(firstName, url string, ttl time.Duration) string {
	return fmt.Sprintf(`
    <h2>Reset Your Password</h2>
    <p>Hi %s, we received a request to reset the password for your Carbonease account.</p>%s
    <p style="font-size: 14px; color: %s;">This link expires in %d minutes. If you didn't request a reset, your password will remain unchanged.</p>`,
		html.EscapeString(firstName), actionBlock("Reset Password", url), themeTextMuted, int(ttl.Minutes()))
}

func transactionContent(firstName string, s TransactionSummary) string {
	return fmt.Sprintf(`
    <h2>Transaction Confirmed!</h2>
    <p>Hi %s, your purchase has been confirmed.</p>
    <table class="ce-table" width="100%%">
      <tr><td><strong>Reference</strong></td><td>%s</td></tr>
      <tr><td><strong>Project</strong></td><td>%s</td></tr>
      <tr><td><strong>Credits</strong></td><td>%d</td></tr>
      <tr><td><strong>Price per credit</strong></td><td>%.2f %s</td></tr>
      <tr><td><strong>Total</strong></td><td>%.2f %s</td></tr>
    </table>
    <p style="text-align: center; margin: 28px 0;"><a href="%s" class="ce-button">View Transaction</a></p>`,
		html.EscapeString(firstName), html.EscapeString(s.Reference), html.EscapeString(s.ProjectName),
		s.Quantity, s.PricePerCredit, s.Currency, s.TotalAmount, s.Currency, html.EscapeString(s.URL))
}

func notificationContent(message string) string {
	return fmt.Sprintf(`<p>%s</p>`, html.EscapeString(message))
}
