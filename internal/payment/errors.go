package payment

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTimeout is returned when the gateway does not answer within the client timeout.
var ErrTimeout = errors.New("payment gateway timeout")

// IssueInstrumentDeclined is the gateway issue code for a refused funding source.
const IssueInstrumentDeclined = "INSTRUMENT_DECLINED"

// ConfigurationError reports gateway credentials that are absent.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "payment gateway not configured: missing " + strings.Join(e.Missing, ", ")
}

// GatewayError is a non-2xx response from the gateway.
type GatewayError struct {
	Op     string
	Status int
	Body   string
	Issue  string
}

func (e *GatewayError) Error() string {
	if e.Issue != "" {
		return fmt.Sprintf("payment gateway %s: status %d: %s", e.Op, e.Status, e.Issue)
	}
	return fmt.Sprintf("payment gateway %s: status %d", e.Op, e.Status)
}

// InstrumentDeclined reports whether the buyer's funding source was refused.
// The buyer can restart approval with another instrument.
func (e *GatewayError) InstrumentDeclined() bool {
	return e.Status == 422 && e.Issue == IssueInstrumentDeclined
}
