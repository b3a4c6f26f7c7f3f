package persistence

import (
	"fmt"
	"regexp"
	"strings"
)

// maxIdentifierLen is PostgreSQL's NAMEDATALEN minus the terminator.
const maxIdentifierLen = 63

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// sqlIdentifier trims input and checks it is a lowercase snake_case table or
// column name that can be interpolated into SQL.
func sqlIdentifier(input string) (string, error) {
	name := strings.TrimSpace(input)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: identifier is empty", ErrInvalidIdentifier)
	case len(name) > maxIdentifierLen:
		return "", fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidIdentifier, name, maxIdentifierLen)
	case !identifierPattern.MatchString(name):
		return "", fmt.Errorf("%w: %q must be lowercase snake_case", ErrInvalidIdentifier, name)
	}
	return name, nil
}
