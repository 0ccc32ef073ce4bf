package health

import "errors"

var errMissing = errors.New("not configured")
