package table

import "errors"

var (
	ErrInvalidPageRequest  = errors.New("table: invalid page request")
	ErrUnsupportedSortType = errors.New("table: unsupported sort type")
	ErrUnknownFilterField  = errors.New("table: unknown filter field")
)
