// Package knowledge holds the ranked candidate solutions pushed by the
// server for the user's current problem.
package knowledge

import (
	"context"
	"log/slog"

	"github.com/ashureev/akai-desk/internal/domain"
)

// TopSolutionLimit is how many suggestions the UI surfaces. Ordering is
// the server's; the client never re-ranks.
const TopSolutionLimit = 3

// FeedbackSender delivers solution feedback to the backend.
type FeedbackSender interface {
	SubmitSolutionFeedback(ctx context.Context, solutionID string, success bool) error
}

// Store is the knowledge-suggestion set for one session. Not safe for
// concurrent use; the session engine serializes access.
type Store struct {
	problems  []domain.Problem
	solutions []domain.Solution
	sender    FeedbackSender
}

// NewStore creates an empty suggestion store.
func NewStore(sender FeedbackSender) *Store {
	return &Store{sender: sender}
}

// SetSuggestions replaces the candidate list wholesale. Local feedback
// guards survive for solutions that reappear in the new set.
func (s *Store) SetSuggestions(problems []domain.Problem, solutions []domain.Solution) {
	submitted := make(map[string]bool, len(s.solutions))
	for _, sol := range s.solutions {
		if sol.FeedbackSubmitted {
			submitted[sol.ID] = true
		}
	}

	s.problems = append([]domain.Problem(nil), problems...)
	s.solutions = append([]domain.Solution(nil), solutions...)
	for i := range s.solutions {
		if submitted[s.solutions[i].ID] {
			s.solutions[i].FeedbackSubmitted = true
		}
	}
}

// Clear drops all suggestions.
func (s *Store) Clear() {
	s.problems = nil
	s.solutions = nil
}

// HasSuggestions reports whether the suggestion panel has content.
func (s *Store) HasSuggestions() bool {
	return len(s.solutions) > 0 || len(s.problems) > 0
}

// Problems returns the matched problems in server order.
func (s *Store) Problems() []domain.Problem {
	return append([]domain.Problem(nil), s.problems...)
}

// TopSolutions returns up to TopSolutionLimit solutions in server order.
func (s *Store) TopSolutions() []domain.Solution {
	n := min(len(s.solutions), TopSolutionLimit)
	return append([]domain.Solution(nil), s.solutions[:n]...)
}

// SubmitFeedback records the outcome of trying a solution. Delivery is
// fire-and-forget: a failed call is logged and does not block further
// interaction or undo the local duplicate guard.
func (s *Store) SubmitFeedback(ctx context.Context, solutionID string, success bool) {
	for i := range s.solutions {
		if s.solutions[i].ID != solutionID {
			continue
		}
		if s.solutions[i].FeedbackSubmitted {
			slog.Debug("Feedback already submitted", "solution_id", solutionID)
			return
		}
		s.solutions[i].FeedbackSubmitted = true
		break
	}

	if s.sender == nil {
		return
	}
	go func() {
		if err := s.sender.SubmitSolutionFeedback(ctx, solutionID, success); err != nil {
			slog.Warn("Failed to deliver solution feedback", "solution_id", solutionID, "error", err)
		}
	}()
}
