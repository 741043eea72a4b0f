package upstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/miekg/dns"
)

// StatusError is returned for a non-2xx reply.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}

var errTooLarge = errors.New("response body exceeds a DNS message")

// readResponse checks the status and returns the body, bounded to the size
// of the largest DNS message.
func readResponse(resp *http.Response) ([]byte, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, dns.MaxMsgSize))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, dns.MaxMsgSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if len(body) > dns.MaxMsgSize {
		return nil, errTooLarge
	}

	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}

	return body, nil
}
