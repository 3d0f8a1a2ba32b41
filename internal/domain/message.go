package domain

// MessageType selects how a receiving client renders a chat message.
type MessageType string

const (
	TypePaymentConfirmation MessageType = "payment_confirmation"
	TypePaymentNotification MessageType = "payment_notification"
	TypePayment             MessageType = "payment"
)

// ChatMessage is what this system hands to a conversation's send capability.
// It is immutable once sent.
type ChatMessage struct {
	ID             string        `json:"id,omitempty"`
	Text           string        `json:"text"`
	Type           MessageType   `json:"type,omitempty"`
	PaymentDetails *PaymentEvent `json:"payment_details,omitempty"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
}

// IsPayment reports whether the message carries a payment payload.
func (m ChatMessage) IsPayment() bool {
	return m.PaymentDetails != nil
}

// Attachment is a rich block shown under a message (group payments).
type Attachment struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	Color string `json:"color,omitempty"`
}
