package federation

import (
	"fmt"
	"net/http"

	"github.com/rostersync/rostersync/internal/vault"
)

// applyAuth attaches credential material to the outgoing request according
// to the connector's auth type. The switch is exhaustive over the credential
// union so a new variant cannot be added without handling it here.
func applyAuth(req *http.Request, creds vault.Credentials) error {
	switch c := creds.(type) {
	case vault.OAuth2Credentials:
		tokenType := c.TokenType
		if tokenType == "" {
			tokenType = "Bearer"
		}
		req.Header.Set("Authorization", tokenType+" "+c.AccessToken)
	case vault.APIKeyCredentials:
		req.Header.Set(c.HeaderName(), c.Key)
	case vault.BasicCredentials:
		req.SetBasicAuth(c.Username, c.Password)
	default:
		return fmt.Errorf("unsupported credential type %T", creds)
	}
	return nil
}
