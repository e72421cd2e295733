package services

import (
	"encoding/json"
	"fmt"

	"github.com/sapautomation/sdaf-setup/internal/azcli"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
)

// credentialShape extracts a client secret from one known layout of credential reset output
type credentialShape struct {
	name    string
	extract func(doc map[string]json.RawMessage) (string, bool)
}

// credentialShapes are tried in order. Different az versions print different layouts.
var credentialShapes = []credentialShape{
	{name: "password", extract: stringField("password")},
	{name: "credential", extract: stringField("credential")},
	{name: "credentials[0].password", extract: firstCredentialPassword},
}

// ParseCredentialReset returns the secret from `az ad ... credential reset` output
func ParseCredentialReset(args []string, out []byte) (string, error) {
	var doc map[string]json.RawMessage
	if err := azcli.Decode(args, out, &doc); err != nil {
		return "", err
	}

	for _, shape := range credentialShapes {
		if secret, ok := shape.extract(doc); ok {
			return secret, nil
		}
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	return "", fmt.Errorf("%w: keys %v", sdaferrors.ErrNoCredential, keys)
}

func stringField(key string) func(map[string]json.RawMessage) (string, bool) {
	return func(doc map[string]json.RawMessage) (string, bool) {
		raw, ok := doc[key]
		if !ok {
			return "", false
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	}
}

func firstCredentialPassword(doc map[string]json.RawMessage) (string, bool) {
	raw, ok := doc["credentials"]
	if !ok {
		return "", false
	}
	var credentials []struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal(raw, &credentials); err != nil || len(credentials) == 0 || credentials[0].Password == "" {
		return "", false
	}
	return credentials[0].Password, true
}
