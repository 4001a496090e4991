package session

import (
	"fmt"
	"regexp"
)

var (
	nameRegexp    = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
	accountRegexp = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
)

// ValidateName checks a session name. Names become directory names.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// ValidateAccountID checks an account id. Ids prefix entity ids and name the
// device store files, so separators and path elements are refused.
func ValidateAccountID(id string) error {
	if !accountRegexp.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("invalid account id %q: must match %s", id, accountRegexp)
	}
	return nil
}
