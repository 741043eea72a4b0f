package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/treemana/godoh/log"
)

const contentType = "application/dns-message"

// ErrTimeout is wrapped by Fetch errors caused by the fetch deadline.
var ErrTimeout = errors.New("upstream timeout")

// Fetch posts query as is and returns the raw reply. Every failure, HTTP
// status included, comes back as an error and no reply.
func (c *Client) Fetch(ctx context.Context, query []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opt.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	start := time.Now()
	resp, err := c.current().Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, time.Since(start), err)
		}
		return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	reply, err := readResponse(resp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, time.Since(start), err)
		}
		return nil, err
	}

	log.Sugar.Debugf("upstream %s %s replied %d bytes in %s", resp.Proto, c.endpoint, len(reply), time.Since(start))

	return reply, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
