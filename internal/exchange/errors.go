package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/sawpanic/pricesentry/internal/net/budget"
	"github.com/sawpanic/pricesentry/internal/net/client"
)

// Category buckets adapter failures for logging and supervisor decisions.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryAPI           Category = "api"
	CategoryConfiguration Category = "configuration"
	CategorySystem        Category = "system"
	CategoryUnknown       Category = "unknown"
)

// ErrNoSymbols is returned when a start or reconnect has no symbols
// to subscribe to.
var ErrNoSymbols = errors.New("no symbols to subscribe")

// AdapterError is the externally visible failure of an adapter operation.
type AdapterError struct {
	Exchange string
	Category Category
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Exchange, e.Category, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a network-category adapter failure.
func IsNetwork(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Category == CategoryNetwork
}

// IsAPI reports whether err is an api-category adapter failure.
func IsAPI(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Category == CategoryAPI
}

// wrapErr attaches the exchange and a category to err. Existing
// AdapterErrors pass through unchanged.
func wrapErr(exchange string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return err
	}
	return &AdapterError{Exchange: exchange, Category: categorize(err), Err: err}
}

func categorize(err error) Category {
	var status *client.StatusError
	var exhausted *budget.ExhaustedError
	var jsonSyntax *json.SyntaxError
	var jsonType *json.UnmarshalTypeError
	var netErr net.Error

	switch {
	case errors.As(err, &status), errors.As(err, &exhausted):
		return CategoryAPI
	case errors.As(err, &jsonSyntax), errors.As(err, &jsonType):
		return CategoryAPI
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryNetwork
	case errors.Is(err, ErrNoSymbols):
		return CategoryConfiguration
	default:
		return CategoryUnknown
	}
}
