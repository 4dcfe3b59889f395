package domain

import "strings"

// Answer is one acceptable answer to a question.
type Answer struct {
	Title string
}

// Question is an immutable quiz question with its acceptable answers.
type Question struct {
	ID      int64
	Title   string
	Answers []Answer
}

// Matches reports whether a reply counts as a correct answer.
//
// The check is deliberately lenient: the reply is correct when any answer
// title occurs in it case-insensitively. This is the single supported
// correctness mode; there is no "designated correct answer" flag.
func (q Question) Matches(reply string) bool {
	reply = strings.ToLower(strings.TrimSpace(reply))
	if reply == "" {
		return false
	}
	for _, a := range q.Answers {
		title := strings.ToLower(strings.TrimSpace(a.Title))
		if title == "" {
			continue
		}
		if strings.Contains(reply, title) {
			return true
		}
	}
	return false
}
