package domain

import "time"

// Message is a fetched mail record persisted after a successful sync.
type Message struct {
	OwnerID    string
	ID         string
	ThreadID   string
	Subject    string
	Sender     string
	Snippet    string
	Body       string
	Labels     []string
	ReceivedAt time.Time
	FetchedAt  time.Time

	// Classification result, nil until classified.
	CategoryID   *string
	Confidence   float64
	ClassifiedAt *time.Time
}

// ClassificationInput converts a stored message into classifier input.
func (m *Message) ClassificationInput() ClassificationInput {
	return ClassificationInput{
		ItemID:  m.ID,
		Subject: m.Subject,
		Sender:  m.Sender,
		Snippet: m.Snippet,
		Body:    m.Body,
		Date:    m.ReceivedAt,
	}
}
