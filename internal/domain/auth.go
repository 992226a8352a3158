package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// AuthType tags the auth variant of a request.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "apiKey"
)

// APIKeyLocation selects where an API key is attached. Anything other than
// header goes to the query string.
type APIKeyLocation string

const (
	APIKeyInHeader APIKeyLocation = "header"
	APIKeyInQuery  APIKeyLocation = "query"
)

// Auth is one of BearerAuth, BasicAuth or APIKeyAuth. A nil Auth means none.
type Auth interface {
	Type() AuthType
	// Map returns a copy with every string field passed through fn.
	Map(fn func(string) string) Auth
	isAuth()
}

// BearerAuth sends "Authorization: Bearer <token>".
type BearerAuth struct {
	Token string
}

func (BearerAuth) Type() AuthType { return AuthBearer }
func (a BearerAuth) Map(fn func(string) string) Auth {
	return BearerAuth{Token: fn(a.Token)}
}
func (BearerAuth) isAuth() {}

// BasicAuth sends base64(username:password).
type BasicAuth struct {
	Username string
	Password string
}

func (BasicAuth) Type() AuthType { return AuthBasic }
func (a BasicAuth) Map(fn func(string) string) Auth {
	return BasicAuth{Username: fn(a.Username), Password: fn(a.Password)}
}
func (BasicAuth) isAuth() {}

// APIKeyAuth attaches a key/value pair to the headers or the query string.
type APIKeyAuth struct {
	Key   string
	Value string
	AddTo APIKeyLocation
}

func (APIKeyAuth) Type() AuthType { return AuthAPIKey }
func (a APIKeyAuth) Map(fn func(string) string) Auth {
	return APIKeyAuth{Key: fn(a.Key), Value: fn(a.Value), AddTo: a.AddTo}
}
func (APIKeyAuth) isAuth() {}

// authJSON is the wire shape shared by every variant.
type authJSON struct {
	Type     AuthType       `json:"type"`
	Token    string         `json:"token,omitempty"`
	Username string         `json:"username,omitempty"`
	Password string         `json:"password,omitempty"`
	Key      string         `json:"key,omitempty"`
	Value    string         `json:"value,omitempty"`
	AddTo    APIKeyLocation `json:"addTo,omitempty"`
}

// DecodeAuth parses the tagged auth object. Absent, null, empty-typed and
// "none" auth decode to nil; an unrecognized tag is a validation error.
func DecodeAuth(raw json.RawMessage) (Auth, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var wire authJSON
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid auth: %v", err)}
	}

	switch AuthType(strings.TrimSpace(string(wire.Type))) {
	case "", AuthNone:
		return nil, nil
	case AuthBearer:
		return BearerAuth{Token: wire.Token}, nil
	case AuthBasic:
		return BasicAuth{Username: wire.Username, Password: wire.Password}, nil
	case AuthAPIKey:
		return APIKeyAuth{Key: wire.Key, Value: wire.Value, AddTo: wire.AddTo}, nil
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unsupported auth type %q", wire.Type)}
	}
}

// EncodeAuth renders an auth variant in its wire shape. Nil encodes to nil.
func EncodeAuth(a Auth) (json.RawMessage, error) {
	if a == nil {
		return nil, nil
	}
	wire := authJSON{Type: a.Type()}
	switch t := a.(type) {
	case BearerAuth:
		wire.Token = t.Token
	case BasicAuth:
		wire.Username = t.Username
		wire.Password = t.Password
	case APIKeyAuth:
		wire.Key = t.Key
		wire.Value = t.Value
		wire.AddTo = t.AddTo
	}
	return json.Marshal(wire)
}
