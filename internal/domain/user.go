package domain

// User is a chat participant eligible to be picked as captain or respondent.
// Identity is the transport user id; the display name is updated on sight.
type User struct {
	ID   int64
	Name string
}
