package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedReferral = errors.New("malformed referral token")

// ParseStartReferral extracts the inviter's telegram id from /start
// deep-link arguments ("ref_<tgid>"). Distinguishes "no token present"
// (ok = false, no error) from a token that is present but broken.
func ParseStartReferral(args string) (inviterTg int64, ok bool, err error) {
	args = strings.TrimSpace(args)
	if args == "" || !strings.HasPrefix(args, "ref_") {
		return 0, false, nil
	}

	id, convErr := strconv.ParseInt(strings.TrimPrefix(args, "ref_"), 10, 64)
	if convErr != nil || id <= 0 {
		return 0, false, fmt.Errorf("%w: %q", ErrMalformedReferral, args)
	}

	return id, true, nil
}
