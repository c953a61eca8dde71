package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeTarget validates a scan target and returns it trimmed.
// URLs must carry a host; bare hosts and IPs are accepted as they are.
func NormalizeTarget(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", fmt.Errorf("%w: empty target", ErrValidation)
	}
	if strings.ContainsAny(target, " \t\r\n") {
		return "", fmt.Errorf("%w: target %q contains whitespace", ErrValidation, target)
	}

	if !strings.Contains(target, "://") {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(u.Hostname()) == 0 {
		return "", fmt.Errorf("%w: %w", ErrValidation, errors.New("invalid domain"))
	}
	return target, nil
}
