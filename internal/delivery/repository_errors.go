package delivery

import "errors"

var ErrOrderNotFound = errors.New("shippable order not found")
var ErrInvalidTransition = errors.New("invalid status transition")
