package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators embedded in every token
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims is the signed payload of access and refresh tokens
type TokenClaims struct {
	Type            string `json:"typ"`
	AccountID       string `json:"uid"`
	Role            string `json:"role"`
	SessionID       string `json:"sid"`
	FamilyID        string `json:"fam,omitempty"`
	FingerprintHash string `json:"fph,omitempty"`
	jwt.RegisteredClaims
}
