package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ExchangeError represents a failed exchange call. Transient I/O failures
// are retriable; authoritative rejections (validation, auth) are not.
type ExchangeError struct {
	Op        string // Operation that failed (e.g., "place", "cancel", "open_orders")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *ExchangeError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ExchangeError) IsRetriable() bool {
	return e.Retriable
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewExchangeError creates a retriable exchange error
func NewExchangeError(op string, err error) *ExchangeError {
	return &ExchangeError{Op: op, Err: err, Retriable: true}
}

// NewRejectionError creates a non-retriable exchange error (the venue
// authoritatively rejected the request; retrying cannot succeed)
func NewRejectionError(op string, err error) *ExchangeError {
	return &ExchangeError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrOrderNotFound is returned when an order id is not in the active table
	ErrOrderNotFound = errors.New("order not found")

	// ErrEmergencyStop is returned when the risk gate has latched and new
	// order issuance is halted
	ErrEmergencyStop = errors.New("emergency stop active")

	// ErrBookStale is returned when the order-book replica has not been
	// updated within its staleness threshold
	ErrBookStale = errors.New("order book stale")

	// ErrNoLiquidity is returned when the book cannot satisfy a depth query
	ErrNoLiquidity = errors.New("insufficient liquidity")

	// ErrBookEmpty is returned when a side of the book has no levels
	ErrBookEmpty = errors.New("order book side empty")
)
