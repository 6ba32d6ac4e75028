package model

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	User struct {
		ID           primitive.ObjectID `json:"-" bson:"_id,omitempty"`
		UserID       string             `json:"user_id" bson:"user_id"`
		PasswordHash []byte             `json:"-" bson:"password_hash"`
	}
)
