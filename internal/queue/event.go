// Package queue carries one-time passcodes from the auth service to the
// mailer over RabbitMQ.
package queue

import "time"

const otpQueueName = "otp.issued"

// OTPIssuedEvent is published whenever a login passcode is generated. The
// consumer turns it into an email; nothing else reads it.
type OTPIssuedEvent struct {
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	OTP       string    `json:"otp"`
	ExpiresIn string    `json:"expires_in"`
	IssuedAt  time.Time `json:"issued_at"`
}
