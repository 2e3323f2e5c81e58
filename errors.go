package main

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("name already taken")
	ErrBadArgument   = errors.New("bad argument")
	ErrWrongPassword = errors.New("wrong password")
	ErrTransport     = errors.New("transport failure")
)
