package datafetcher

import "fmt"

// UpstreamFetchError is a network, timeout or HTTP failure talking to a source
type UpstreamFetchError struct {
	Source     string
	Symbol     string
	StatusCode int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: fetch %s failed with HTTP %d: %v", e.Source, e.Symbol, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: fetch %s failed: %v", e.Source, e.Symbol, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// UpstreamParseError means the payload did not have the expected shape.
// Snippet holds the start of the raw payload for diagnosis.
type UpstreamParseError struct {
	Source  string
	Symbol  string
	Snippet string
	Err     error
}

func (e *UpstreamParseError) Error() string {
	return fmt.Sprintf("%s: unexpected payload for %s: %v", e.Source, e.Symbol, e.Err)
}

func (e *UpstreamParseError) Unwrap() error { return e.Err }

const snippetLen = 200

func snippet(body []byte) string {
	if len(body) > snippetLen {
		return string(body[:snippetLen])
	}
	return string(body)
}
