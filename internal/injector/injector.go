// Package injector applies request auth schemes to resolved headers and query params.
package injector

import (
	"encoding/base64"

	"github.com/samvad-hq/nexlink/internal/domain"
)

// AuthorizationHeader is the header written by bearer and basic auth.
const AuthorizationHeader = "Authorization"

// Apply mutates headers and params according to auth. Nil auth and variants
// missing a required field are skipped. Both maps must be non-nil.
func Apply(auth domain.Auth, headers, params map[string]string) {
	switch a := auth.(type) {
	case domain.BearerAuth:
		if a.Token == "" {
			return
		}
		headers[AuthorizationHeader] = "Bearer " + a.Token
	case domain.BasicAuth:
		if a.Username == "" || a.Password == "" {
			return
		}
		creds := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		headers[AuthorizationHeader] = "Basic " + creds
	case domain.APIKeyAuth:
		if a.Key == "" || a.Value == "" {
			return
		}
		if a.AddTo == domain.APIKeyInHeader {
			headers[a.Key] = a.Value
			return
		}
		params[a.Key] = a.Value
	}
}
