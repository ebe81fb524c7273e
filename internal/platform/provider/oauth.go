package provider

import (
	"golang.org/x/oauth2"
)

// OAuthConfig builds the oauth2 configuration for the provider's
// authorization-code flow. authBaseURL is the provider's auth host
// (e.g. https://auth.calendly.com).
func OAuthConfig(clientID, clientSecret, redirectURL, authBaseURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authBaseURL + "/oauth/authorize",
			TokenURL: authBaseURL + "/oauth/token",
		},
	}
}
