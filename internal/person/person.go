package person

import (
	"time"

	"gorm.io/gorm"
)

// Role represents the set of possible user roles.
// @Description user role type: "admin" or "member"
type Role string

const (
	// Admin has full access
	Admin Role = "admin"
	// Member is the role every sign-up receives
	Member Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == Admin || r == Member
}

// Person is the identity a token subject refers to.
type Person struct {
	gorm.Model
	Name     string `gorm:"size:100;not null"`
	Email    string `gorm:"uniqueIndex;not null"`
	Password string `json:"-"`
	LastSeen time.Time
	Role     Role `gorm:"type:text;default:'member'"`
}

// PersonResponse is the public projection of a Person.
// @Description identity returned by sign-up, sign-in and lookups
type PersonResponse struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (p *Person) ToResponse() PersonResponse {
	return PersonResponse{ID: p.ID, Name: p.Name, Email: p.Email, Role: p.Role}
}

// NewPerson initializes a new Person with the member role.
func NewPerson(name, email, passwordHash string, now time.Time) *Person {
	return &Person{
		Name:     name,
		Email:    email,
		Password: passwordHash,
		LastSeen: now,
		Role:     Member,
	}
}
