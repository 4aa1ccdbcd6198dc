package domain

// Problem is a knowledge-base entry matched against the user's stated
// issue. Server-owned; the client never re-ranks.
type Problem struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Solution is a candidate pre-authored fix for a matched problem.
// SuccessRate is computed server-side from accumulated feedback.
type Solution struct {
	ID           string   `json:"id"`
	ProblemID    string   `json:"problem_id"`
	ProblemTitle string   `json:"problem_title,omitempty"`
	Title        string   `json:"title"`
	Steps        []string `json:"steps"`
	SuccessRate  float64  `json:"success_rate"`

	// FeedbackSubmitted is a local, best-effort guard against duplicate
	// feedback calls. The server does not enforce it.
	FeedbackSubmitted bool `json:"-"`
}
