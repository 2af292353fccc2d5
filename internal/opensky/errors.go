package opensky

import "errors"

var (
	ErrRateLimited = errors.New("rate limited by provider")
	ErrAuthFailed  = errors.New("authentication failed")
	ErrServer      = errors.New("provider server error")
	ErrMalformed   = errors.New("malformed provider response")
)
