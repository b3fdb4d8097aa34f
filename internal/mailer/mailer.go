// Package mailer abstracts the outbound mail transport.
package mailer

import "context"

// Message is a single outbound email.
type Message struct {
	To        string
	ToName    string
	FromName  string
	FromEmail string
	ReplyTo   string
	Subject   string
	HTML      string
	Text      string
	Tags      map[string]string
}

// Transport delivers a message. Implementations return the provider's
// error unmodified so callers can record it verbatim on the queue row.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}
