package utils

import (
	"fmt"
	"net/smtp"
	"os"
)

// SendMail delivers a message best-effort. Billing never depends on it:
// failures are logged and the caller moves on.
func SendMail(email string, message []byte) {
	from := os.Getenv("SMTP_FROM")
	password := os.Getenv("SMTP_PASSWORD")
	smtpHost := os.Getenv("SMTP_HOST")
	smtpPort := os.Getenv("SMTP_PORT")
	if smtpHost == "" {
		smtpHost = "smtp.gmail.com"
	}
	if smtpPort == "" {
		smtpPort = "587"
	}

	auth := smtp.PlainAuth("", from, password, smtpHost)
	if err := smtp.SendMail(smtpHost+":"+smtpPort, auth, from, []string{email}, message); err != nil {
		LogError(err, "Error sending email")
		return
	}
	LogSuccess("Email sent successfully")
}

// PaymentFailedMail builds the alert sent after a failed charge.
func PaymentFailedMail(email, reason string) []byte {
	return []byte(fmt.Sprintf(
		"To: %s\r\nSubject: Problema com o pagamento da sua assinatura\r\n\r\n"+
			"Nao conseguimos processar o pagamento da sua assinatura: %s\r\n"+
			"Atualize sua forma de pagamento para manter o acesso.\r\n", email, reason))
}
