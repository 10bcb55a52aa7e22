package database

import "errors"

// Connection errors
var (
	ErrNotConnected     = errors.New("database not connected")
	ErrConnectionFailed = errors.New("failed to connect to database")
)

// Argument errors
var (
	ErrEmptyQuery       = errors.New("query is required")
	ErrTableRequired    = errors.New("table name is required")
	ErrInvalidFormat    = errors.New("invalid explain format")
	ErrTableNotFound    = errors.New("table not found")
	ErrConnStringNeeded = errors.New("connection string is required")
)

// Query errors
var (
	ErrQueryFailed = errors.New("query failed")
	ErrReadingRows = errors.New("error reading rows")
)
