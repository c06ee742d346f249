package models

// User is the signed-in employee cached for the lifetime of a session.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	EmployeeID string `json:"employeeId,omitempty"`
	Role       string `json:"role,omitempty"`
}
