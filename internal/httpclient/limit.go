package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrBodyTooLarge is matched by every BodyTooLargeError.
var ErrBodyTooLarge = errors.New("response body too large")

// BodyTooLargeError reports a response body longer than the caller allowed.
type BodyTooLargeError struct {
	URL   string
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("%s: body exceeds %d bytes", e.URL, e.Limit)
}

func (e *BodyTooLargeError) Is(target error) bool { return target == ErrBodyTooLarge }

// ReadBody drains at most limit bytes of resp.Body. A non-positive limit
// reads everything. The body is not closed.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= limit {
		return data, nil
	}
	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.Redacted()
	}
	return nil, &BodyTooLargeError{URL: url, Limit: limit}
}
