package engine

import (
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

// StopOnError is the default status function: the first error result stops
// the whole run.
func StopOnError(res Result, sess *session.Session) (Result, *session.Session) {
	if res.Err != nil {
		res.Stop = true
	}
	return res, sess
}

// Continue never stops; error results flow past failed actions.
func Continue(res Result, sess *session.Session) (Result, *session.Session) {
	return res, sess
}

// ErrorCollector is a tolerant status function: it records every error
// result and lets the run continue to the end.
type ErrorCollector struct {
	errs []*schema.Error
}

// NewErrorCollector creates an empty collector.
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{}
}

// Status implements StatusFn.
func (c *ErrorCollector) Status(res Result, sess *session.Session) (Result, *session.Session) {
	if res.Err != nil {
		c.errs = append(c.errs, res.Err)
	}
	return res, sess
}

// Errors returns the collected errors in occurrence order.
func (c *ErrorCollector) Errors() []*schema.Error {
	return c.errs
}
