package proxy

import "errors"

var ErrInvalidBackendURL = errors.New("invalid backend base url")
