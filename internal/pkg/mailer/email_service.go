package mailer

import (
	"fmt"
	"html"

	"gopkg.in/gomail.v2"
)

// AppointmentEmail carries what the confirmation email shows.
type AppointmentEmail struct {
	CallerName   string
	BusinessName string
	Reason       string
	When         string
}

type IEmailService interface {
	SendAppointmentConfirmation(toEmail string, appt AppointmentEmail) error
}

type emailService struct {
	dialer      *gomail.Dialer
	senderEmail string
	senderName  string
}

func NewEmailService(host string, port int, username, password, senderEmail, senderName string) IEmailService {
	d := gomail.NewDialer(host, port, username, password)

	return &emailService{
		dialer:      d,
		senderEmail: senderEmail,
		senderName:  senderName,
	}
}

func (s *emailService) SendAppointmentConfirmation(toEmail string, appt AppointmentEmail) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.senderEmail, s.senderName)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", fmt.Sprintf("Appointment confirmed with %s", appt.BusinessName))

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Your appointment is booked</h2>
			<p>Hi %s, we called <strong>%s</strong> for you.</p>
			<p>Reason: %s</p>
			<h3 style="color: #4CAF50;">%s</h3>
			<p>Reply to this email if the time no longer works.</p>
		</div>
	`, html.EscapeString(appt.CallerName), html.EscapeString(appt.BusinessName),
		html.EscapeString(appt.Reason), html.EscapeString(appt.When))

	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send appointment confirmation to %s: %w", toEmail, err)
	}
	return nil
}
