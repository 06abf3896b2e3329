package warehouse

import "errors"

var ErrSKUNotFound = errors.New("sku not found")
var ErrInsufficientStock = errors.New("insufficient stock")
var ErrDeductionFailed = errors.New("stock deduction failed")
