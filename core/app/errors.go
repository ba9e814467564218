package app

import "errors"

var (
	ErrEmptyName          = errors.New("application name is empty")
	ErrDuplicateName      = errors.New("application already registered")
	ErrInvalidContextPath = errors.New("context path must start with a slash")
	ErrInvalidVirtualHost = errors.New("invalid virtual host")
	ErrNotFound           = errors.New("application not found")
	ErrInvalidErrorPage   = errors.New("error page pattern must be a status code or a class like 5xx")
)
