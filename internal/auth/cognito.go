package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/rs/zerolog"

	"github.com/verbatim-live/verbatim/internal/hubfault"
)

// cognitoAPI is the slice of the Cognito client the verifier uses.
// Tests supply a fake.
type cognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	GetUser(ctx context.Context, params *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
}

// CognitoConfig carries the user pool coordinates. All three values are
// required; the constructor refuses empty ones so the process can fail
// fast at startup.
type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string
}

type CognitoVerifier struct {
	cfg    CognitoConfig
	client cognitoAPI
	log    zerolog.Logger
}

// NewCognitoVerifier builds the provider-backed verifier.
func NewCognitoVerifier(ctx context.Context, cfg CognitoConfig, logger zerolog.Logger) (*CognitoVerifier, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &CognitoVerifier{
		cfg:    cfg,
		client: cip.NewFromConfig(awsCfg),
		log:    logger.With().Str("component", "auth").Logger(),
	}, nil
}

// newCognitoVerifierWithClient is the test seam.
func newCognitoVerifierWithClient(cfg CognitoConfig, client cognitoAPI, logger zerolog.Logger) (*CognitoVerifier, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &CognitoVerifier{cfg: cfg, client: client, log: logger}, nil
}

func validateConfig(cfg CognitoConfig) error {
	var missing []string
	if strings.TrimSpace(cfg.Region) == "" {
		missing = append(missing, "region")
	}
	if strings.TrimSpace(cfg.UserPoolID) == "" {
		missing = append(missing, "user pool id")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		missing = append(missing, "client id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("cognito configuration incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (v *CognitoVerifier) AuthenticateCredentials(ctx context.Context, username, password string) (CredentialResult, error) {
	out, err := v.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: ciptypes.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(v.cfg.ClientID),
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return CredentialResult{}, classify(err, "credential authentication")
	}
	if out.AuthenticationResult == nil || out.AuthenticationResult.AccessToken == nil {
		// Challenge flows (MFA, NEW_PASSWORD_REQUIRED) are not supported
		// for hub operators.
		return CredentialResult{}, hubfault.New(hubfault.CodeInsufficientPermissions,
			"provider requires an unsupported auth challenge")
	}

	res := out.AuthenticationResult
	info, err := v.userInfoFromToken(ctx, aws.ToString(res.AccessToken))
	if err != nil {
		return CredentialResult{}, err
	}

	v.log.Info().Str("subject", info.Subject).Msg("credentials authenticated")
	return CredentialResult{
		UserInfo:     info,
		AccessToken:  aws.ToString(res.AccessToken),
		IDToken:      aws.ToString(res.IdToken),
		RefreshToken: aws.ToString(res.RefreshToken),
		ExpiresIn:    res.ExpiresIn,
	}, nil
}

func (v *CognitoVerifier) ValidateAccessToken(ctx context.Context, token string) (UserInfo, error) {
	if strings.TrimSpace(token) == "" {
		return UserInfo{}, hubfault.New(hubfault.CodeTokenInvalid, "empty access token")
	}
	return v.userInfoFromToken(ctx, token)
}

func (v *CognitoVerifier) RefreshAccessToken(ctx context.Context, username, refreshToken string) (RefreshResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return RefreshResult{}, hubfault.New(hubfault.CodeTokenInvalid, "empty refresh token")
	}
	out, err := v.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: ciptypes.AuthFlowTypeRefreshTokenAuth,
		ClientId: aws.String(v.cfg.ClientID),
		AuthParameters: map[string]string{
			"USERNAME":      username,
			"REFRESH_TOKEN": refreshToken,
		},
	})
	if err != nil {
		return RefreshResult{}, classifyRefresh(err)
	}
	if out.AuthenticationResult == nil || out.AuthenticationResult.AccessToken == nil {
		return RefreshResult{}, hubfault.New(hubfault.CodeTokenInvalid, "refresh returned no access token")
	}
	return RefreshResult{
		AccessToken: aws.ToString(out.AuthenticationResult.AccessToken),
		ExpiresIn:   out.AuthenticationResult.ExpiresIn,
	}, nil
}

// userInfoFromToken resolves the token's subject and display attributes
// with the provider's GetUser primitive, which also rejects expired,
// malformed and revoked tokens.
func (v *CognitoVerifier) userInfoFromToken(ctx context.Context, token string) (UserInfo, error) {
	out, err := v.client.GetUser(ctx, &cip.GetUserInput{AccessToken: aws.String(token)})
	if err != nil {
		return UserInfo{}, classify(err, "token validation")
	}

	info := UserInfo{Username: aws.ToString(out.Username)}
	for _, attr := range out.UserAttributes {
		switch aws.ToString(attr.Name) {
		case "sub":
			info.Subject = aws.ToString(attr.Value)
		case "email":
			info.Email = aws.ToString(attr.Value)
		case "cognito:groups":
			info.Groups = splitGroups(aws.ToString(attr.Value))
		}
	}
	if info.Subject == "" {
		return UserInfo{}, hubfault.New(hubfault.CodeTokenInvalid, "provider returned no subject")
	}
	return info, nil
}

func splitGroups(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	groups := make([]string, 0, len(parts))
	for _, p := range parts {
		if g := strings.TrimSpace(p); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// classify maps provider errors into the taxonomy at the boundary.
func classify(err error, op string) error {
	var notAuth *ciptypes.NotAuthorizedException
	if errors.As(err, &notAuth) {
		msg := aws.ToString(notAuth.Message)
		switch {
		case strings.Contains(msg, "disabled"):
			return hubfault.New(hubfault.CodeUserDisabled, "user disabled by provider").WithCause(err)
		case strings.Contains(msg, "expired"):
			return hubfault.New(hubfault.CodeTokenExpired, "access token expired").WithCause(err)
		default:
			return hubfault.New(hubfault.CodeInvalidCredentials, "provider rejected credentials").WithCause(err)
		}
	}
	var userNotFound *ciptypes.UserNotFoundException
	if errors.As(err, &userNotFound) {
		return hubfault.New(hubfault.CodeUserNotFound, "user not found in pool").WithCause(err)
	}
	var notConfirmed *ciptypes.UserNotConfirmedException
	if errors.As(err, &notConfirmed) {
		return hubfault.New(hubfault.CodeUserDisabled, "user not confirmed").WithCause(err)
	}
	var resetRequired *ciptypes.PasswordResetRequiredException
	if errors.As(err, &resetRequired) {
		return hubfault.New(hubfault.CodeInvalidCredentials, "password reset required").WithCause(err)
	}
	var tooMany *ciptypes.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return hubfault.New(hubfault.CodeProviderUnavailable, "provider throttled "+op).WithCause(err)
	}
	var invalidParam *ciptypes.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return hubfault.New(hubfault.CodeTokenInvalid, "provider rejected request shape").WithCause(err)
	}
	return hubfault.New(hubfault.CodeProviderUnavailable, "provider unreachable during "+op).WithCause(err)
}

// classifyRefresh is classify with the refresh-specific expiry code.
func classifyRefresh(err error) error {
	var notAuth *ciptypes.NotAuthorizedException
	if errors.As(err, &notAuth) {
		msg := aws.ToString(notAuth.Message)
		if strings.Contains(msg, "disabled") {
			return hubfault.New(hubfault.CodeUserDisabled, "user disabled by provider").WithCause(err)
		}
		return hubfault.New(hubfault.CodeRefreshTokenExpired, "refresh token expired or revoked").WithCause(err)
	}
	return classify(err, "token refresh")
}
