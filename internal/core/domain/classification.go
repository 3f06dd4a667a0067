package domain

import "time"

// ClassificationInput carries the text fields used to build a prompt.
type ClassificationInput struct {
	ItemID  string
	Subject string
	Sender  string
	Snippet string
	Body    string
	Date    time.Time
}

// CategoryDefinition describes one label the classifier may choose.
type CategoryDefinition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	LabelName   string `yaml:"label"`
}

// ClassificationOutcome is the best match for one item.
// MatchedCategoryID is nil when nothing matched.
type ClassificationOutcome struct {
	ItemID            string
	MatchedCategoryID *string
	Confidence        float64
}

// Matched reports whether a category was assigned.
func (o ClassificationOutcome) Matched() bool {
	return o.MatchedCategoryID != nil
}
