package notify

import "context"

const (
	CategorySecurityAlert = "security_alert"
	CategoryAccountNotice = "account_notice"
)

type Message struct {
	To       []string
	Cc       []string
	Subject  string
	Body     string
	Category string
	IsHTML   bool
}

type Sender interface {
	Send(ctx context.Context, message *Message) error
}
