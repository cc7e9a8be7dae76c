package messagedb

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrSQLConditionDisabled is returned when a read supplies a SQL condition
// but the server has not activated message_store.sql_condition. The client
// fails loudly rather than letting the server return an unfiltered superset.
var ErrSQLConditionDisabled = errors.New("server-side SQL condition is not activated")

// OptimisticConcurrencyError reports an append that lost a version race:
// the stream's actual last position did not match the supplied expected
// version. Callers may re-read and retry.
type OptimisticConcurrencyError struct {
	Stream          string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *OptimisticConcurrencyError) Error() string {
	return fmt.Sprintf("wrong expected version %d for stream %q (stream version: %d)",
		e.ExpectedVersion, e.Stream, e.ActualVersion)
}

// wrongVersionPattern matches the store's "Wrong expected version: E (Stream:
// S, Stream Version: A)" application error. The middle section is matched
// loosely so minor server message changes keep parsing.
var wrongVersionPattern = regexp.MustCompile(`Wrong expected version: (-?\d+).*Stream Version: (-?\d+)`)

// parseConcurrencyError recognises the store's version-conflict error text
// and converts it to a typed error. Returns nil for any other error shape.
func parseConcurrencyError(stream string, err error) *OptimisticConcurrencyError {
	if err == nil {
		return nil
	}
	m := wrongVersionPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return nil
	}
	expected, perr := strconv.ParseInt(m[1], 10, 64)
	if perr != nil {
		return nil
	}
	actual, perr := strconv.ParseInt(m[2], 10, 64)
	if perr != nil {
		return nil
	}
	return &OptimisticConcurrencyError{Stream: stream, ExpectedVersion: expected, ActualVersion: actual}
}

// isConditionDisabledError recognises the store's refusal to run a SQL
// condition while message_store.sql_condition is off.
func isConditionDisabledError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQL condition is not activated")
}
