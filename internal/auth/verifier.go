// Package auth validates operator principals against AWS Cognito.
// The hub never stores passwords or tokens; every token is validated
// on demand with the provider and forwarded to the client verbatim.
package auth

import "context"

// UserInfo is the provider-derived view of an operator. Subject is the
// user pool's opaque `sub` attribute and is the only value used for
// authorization decisions.
type UserInfo struct {
	Subject  string
	Username string
	Email    string
	Groups   []string
}

// CredentialResult is returned by the password flow. The token set is
// forwarded to the operator client, which owns token persistence.
type CredentialResult struct {
	UserInfo
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    int32
}

// RefreshResult is returned by the refresh-token exchange.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int32
}

// Verifier is the identity-provider boundary. Implementations classify
// every failure into the hubfault taxonomy before returning it.
type Verifier interface {
	AuthenticateCredentials(ctx context.Context, username, password string) (CredentialResult, error)
	ValidateAccessToken(ctx context.Context, token string) (UserInfo, error)
	RefreshAccessToken(ctx context.Context, username, refreshToken string) (RefreshResult, error)
}
