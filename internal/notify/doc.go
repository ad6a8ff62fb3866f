// Package notify delivers operator notifications.
//
// SMTPNotifier sends plain-text e-mail over STARTTLS. LogNotifier is used
// when SMTP is disabled and only writes the notification to the log, so an
// outage is still visible to whoever reads it.
package notify
