package models

import "time"

const UsersCollection = "users"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStudent  Role = "student"
	RoleLecturer Role = "lecturer"
)

// User struct matches the document in the users collection.
type User struct {
	ID           string    `bson:"_id" json:"id"`
	Name         string    `bson:"name" json:"name"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"passwordHash" json:"-"`
	Role         Role      `bson:"role" json:"role"`
	IsApproved   bool      `bson:"isApproved" json:"isApproved"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}
