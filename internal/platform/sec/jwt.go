// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package sec provides cryptographic primitives and token management.
//
// # Architecture
//
// This package isolates security-sensitive code (token generation, hashing,
// JWT signing) from the domain logic. It acts as an Infrastructure service
// injected into the Application layer via the [auth.TokenProvider] interface.
package sec

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims represents the payload embedded inside a JWT Access Token.
//
// # Why only registered claims?
//
// The token carries exactly sub, iat, and exp. The subject is the user ID,
// which is all the [middleware.Authenticate] decoder needs to reconstruct the
// active user context WITHOUT querying the database on every API request.
// Anything else about the user is fetched explicitly via GET /auth/me.
type AuthClaims struct {
	jwt.RegisteredClaims
}

// UserID returns the user ID carried in the subject claim.
func (claims *AuthClaims) UserID() string {
	return claims.Subject
}

// TokenService handles generation and verification of JWT access tokens
// using an HMAC signing method (HS256 by default).
type TokenService struct {
	secret []byte
	method *jwt.SigningMethodHMAC
}

// NewTokenService creates a new TokenService from a shared secret.
//
// The algorithm name must identify an HMAC method (HS256, HS384, HS512);
// asymmetric methods are rejected because verification would silently
// degrade to an unkeyed check.
func NewTokenService(secret, algorithm string) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("sec: jwt secret must not be empty")
	}

	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("sec: unsupported jwt algorithm %q, expected an HMAC method", algorithm)
	}

	return &TokenService{
		secret: []byte(secret),
		method: method,
	}, nil
}

// GenerateAccessToken creates a new JWT access token for a user.
func (service *TokenService) GenerateAccessToken(userID string, timeToLive time.Duration) (string, error) {
	currentTime := time.Now()
	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(timeToLive)),
		},
	}

	token := jwt.NewWithClaims(service.method, claims)
	signedToken, err := token.SignedString(service.secret)
	if err != nil {
		return "", fmt.Errorf("sec: failed to sign token: %w", err)
	}

	return signedToken, nil
}

// VerifyToken checks the signature and validity of a JWT string.
func (service *TokenService) VerifyToken(tokenString string) (*AuthClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AuthClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("sec: unexpected signing method: %v", token.Header["alg"])
		}
		return service.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("sec: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*AuthClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("sec: invalid token claims")
	}

	return claims, nil
}
