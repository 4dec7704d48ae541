package state

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// CodeLength is the length of codes issued by the session service.
	CodeLength = 6
	// MinCodeLength is the shortest input Join will send to the service.
	MinCodeLength = 4

	inviteParam = "join"
)

var (
	alnum       = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	inviteShape = regexp.MustCompile(`^[A-Za-z0-9]{6}$`)
)

// NormalizeCode trims and upper-cases a session code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode checks user input before it is sent anywhere and returns the
// normalized code.
func ValidateCode(code string) (string, error) {
	normalized := NormalizeCode(code)
	switch {
	case normalized == "":
		return "", &InvalidCodeError{Code: code, Reason: "code is empty"}
	case len(normalized) < MinCodeLength:
		return "", &InvalidCodeError{Code: code, Reason: fmt.Sprintf("code must be at least %d characters", MinCodeLength)}
	case !alnum.MatchString(normalized):
		return "", &InvalidCodeError{Code: code, Reason: "code must be alphanumeric"}
	}
	return normalized, nil
}

// InviteLink builds a shareable link for code on top of base. Any existing
// query string on base is dropped.
func InviteLink(base, code string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse invite base %q: %w", base, err)
	}
	u.RawQuery = url.Values{inviteParam: []string{NormalizeCode(code)}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// CodeFromLink extracts a session code from an invite link. Only well-formed
// six character codes are accepted.
func CodeFromLink(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	code := u.Query().Get(inviteParam)
	if !inviteShape.MatchString(code) {
		return "", false
	}
	return strings.ToUpper(code), true
}
