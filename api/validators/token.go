package validators

import (
	"strings"

	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
)

const (
	sessionTokenPrefix = "cs_"
	sessionTokenHexLen = 30
)

// ValidateSessionToken checks the shape of a checkout session token without
// touching storage. Tokens are "cs_" followed by 30 lowercase hex characters.
func ValidateSessionToken(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if !strings.HasPrefix(token, sessionTokenPrefix) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid session token")
	}
	suffix := token[len(sessionTokenPrefix):]
	if len(suffix) != sessionTokenHexLen {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid session token")
	}
	for _, r := range suffix {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid session token")
		}
	}
	return token, nil
}
