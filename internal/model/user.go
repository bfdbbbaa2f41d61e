package model

// User is an account known to the identity provider. The application keeps
// no user table of its own; users are identified by email everywhere else.
type User struct {
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}
