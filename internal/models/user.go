package models

// User is an operator account. RunRecord.StartedBy refers to its ID.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}
