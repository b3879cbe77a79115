// Package oauth verifies workspace bearer tokens and drives the
// authorization-code exchange against a workspace app registration.
//
// # Token Validation
//
// A Validator checks an RS256 token against a JWKS endpoint, an exact
// audience and an exact issuer, then requires the roles claim to hold at
// least one of WorkspaceOwner, WorkspaceResearcher or AirlockManager
// (compared case-insensitively). Key sets are fetched on demand and cached
// per endpoint; a token signed with an unknown key id triggers at most one
// refresh per RefreshInterval.
//
//	v := oauth.NewValidator(oauth.ValidatorOptions{Logger: log})
//
//	claims, err := v.Validate(ctx, token, oauth.Params{
//	    JWKSEndpoint: authority.JWKSURL(tenant),
//	    Audience:     clientID,
//	    Issuer:       authority.Issuer(tenant),
//	})
//	if errors.Is(err, autherr.ErrInvalidCredentials) {
//	    // deny
//	}
//
// # Authorization Code Flow
//
// AuthorizationURL builds the browser redirect and an Exchanger trades the
// returned code for an access token:
//
//	loginURL, err := oauth.AuthorizationURL(endpoint, clientID, redirectURI, nonce, workspaceID)
//
//	token, err := exchanger.Exchange(ctx, oauth.ExchangeRequest{
//	    TokenEndpoint: authority.TokenURL(tenant),
//	    ClientID:      clientID,
//	    ClientSecret:  secret,
//	    Code:          code,
//	    RedirectURI:   redirectURI,
//	    Scope:         oauth.ImpersonationScope(clientID),
//	})
//
// # Errors
//
// Configuration gaps wrap autherr.ErrConfiguration and are reported before
// any network call. Credential failures wrap autherr.ErrInvalidCredentials.
// Key set fetch failures are *autherr.UpstreamError values.
package oauth
