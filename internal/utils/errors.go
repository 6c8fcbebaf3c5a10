package utils

import "errors"

// ErrExternalServiceFailure marks verdict-service failures (auth, HTTP
// error, timeout) so logs can tell them apart from local verification
// failures.
var ErrExternalServiceFailure = errors.New("external_service_failure")
