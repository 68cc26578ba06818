package embed

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// DefaultCognitiveScope is the Entra ID scope of Azure AI services.
const DefaultCognitiveScope = "https://cognitiveservices.azure.com/.default"

// EntraConfig configures service-principal authentication.
type EntraConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scope        string
	// TokenURL overrides the login.microsoftonline.com endpoint.
	TokenURL string
}

// NewEntraTokenSource returns a cached client-credentials token source.
// Tokens are refreshed shortly before expiry.
func NewEntraTokenSource(ctx context.Context, cfg EntraConfig, client *http.Client) (oauth2.TokenSource, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, dierrors.New(dierrors.ErrCodeMissingCredentials,
			"tenant id, client id and client secret are required for Entra ID auth", nil)
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultCognitiveScope
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID)
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{cfg.Scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	return cc.TokenSource(ctx), nil
}

// classifyTokenError maps a token endpoint failure. A rejected credential
// is fatal; anything else is assumed transient.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if stderrors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		if code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden {
			return dierrors.UnauthorizedError("token request rejected", err)
		}
	}
	return dierrors.NetworkError("token request failed", err)
}
