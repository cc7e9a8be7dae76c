package llm

import "fmt"

// TransportError reports a failed API call: network failure, HTTP error,
// rate limit, or any other provider-side rejection.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s API call failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResponseError reports a reply that arrived but could not be used: empty
// content, malformed tool arguments, or a shape the adapter cannot map.
type ResponseError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s returned an unusable response: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s returned an unusable response: %s", e.Provider, e.Reason)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
