package types

// Participant is the verified identity attached to a connection for its whole lifetime.
type Participant struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
