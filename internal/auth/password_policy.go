package auth

import (
	"bufio"
	"bytes"
	"compress/gzip"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/redmonkez12/accounts-api/internal/httputil"
)

const (
	minPasswordLength = 8
	maxSimilarity     = 0.7
)

// Breached passwords, one per line, lowercase.
//
//go:embed common-passwords.txt.gz
var commonPasswordsGz []byte

var (
	commonPasswords = mustLoadCommonPasswords(commonPasswordsGz)
	nonWordRe       = regexp.MustCompile(`\W+`)
)

func mustLoadCommonPasswords(data []byte) map[string]struct{} {
	set, err := loadCommonPasswords(data)
	if err != nil {
		panic(fmt.Sprintf("auth: common password list: %v", err))
	}
	return set
}

func loadCommonPasswords(data []byte) (map[string]struct{}, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	set := make(map[string]struct{}, 60000)
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// UserAttributes are the profile values a password must not resemble.
type UserAttributes struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
}

// ValidatePassword applies every strength rule and reports each failure on
// the "password" field. The returned error has no entries when the password
// is acceptable.
func ValidatePassword(password string, attrs UserAttributes) *ValidationError {
	v := &ValidationError{}

	if utf8.RuneCountInString(password) < minPasswordLength {
		v.Add("password", httputil.CodePasswordTooShort,
			fmt.Sprintf("This password is too short. It must contain at least %d characters.", minPasswordLength))
	}

	if name, similar := similarAttribute(password, attrs); similar {
		v.Add("password", httputil.CodePasswordTooSimilar,
			fmt.Sprintf("The password is too similar to the %s.", name))
	}

	if _, common := commonPasswords[strings.ToLower(strings.TrimSpace(password))]; common {
		v.Add("password", httputil.CodePasswordTooCommon, "This password is too common.")
	}

	if isAllDigits(password) {
		v.Add("password", httputil.CodePasswordNumeric, "This password is entirely numeric.")
	}

	return v
}

// similarAttribute returns the display name of the first attribute the
// password resembles. Each attribute is compared whole and split on non-word
// runs.
func similarAttribute(password string, attrs UserAttributes) (string, bool) {
	pw := strings.ToLower(password)

	candidates := []struct {
		name  string
		value string
	}{
		{"username", attrs.Username},
		{"first name", attrs.FirstName},
		{"last name", attrs.LastName},
		{"email address", attrs.Email},
	}

	for _, c := range candidates {
		if c.value == "" {
			continue
		}
		value := strings.ToLower(c.value)
		parts := append(nonWordRe.Split(value, -1), value)
		for _, part := range parts {
			if exceedsMaximumLengthRatio(pw, part) {
				continue
			}
			if quickRatio(pw, part) >= maxSimilarity {
				return c.name, true
			}
		}
	}
	return "", false
}

// exceedsMaximumLengthRatio skips parts so short relative to the password
// that they could never reach maxSimilarity.
func exceedsMaximumLengthRatio(password, value string) bool {
	pwdLen := utf8.RuneCountInString(password)
	valueLen := utf8.RuneCountInString(value)
	lengthBound := maxSimilarity / 2 * float64(pwdLen)
	return pwdLen >= 10*valueLen && float64(valueLen) < lengthBound
}

// quickRatio is an upper bound on sequence similarity: twice the size of the
// multiset intersection of runes over the combined length.
func quickRatio(a, b string) float64 {
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	if la+lb == 0 {
		return 1
	}

	avail := make(map[rune]int, lb)
	for _, r := range b {
		avail[r]++
	}

	matches := 0
	for _, r := range a {
		if avail[r] > 0 {
			avail[r]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(la+lb)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
