package types

import "errors"

var ErrInvalidIdentity = errors.New("identity must be 1-50 characters, alphanumeric + underscore/hyphen only")
