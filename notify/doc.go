// Package notify delivers the emails the export pipeline schedules.
//
// Notifications are ordinary jobs of type "send-email" on the notifications
// queue. The Handler decodes a Payload, renders a subject and body from the
// named template and hands the Message to a Mailer. Transport is external:
// LogMailer only records what would have been sent.
package notify
