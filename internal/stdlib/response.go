package stdlib

import (
	"encoding/json"
	"fmt"
)

// Response is a wire-ready HTTP-shaped response value.
type Response struct {
	Status  int64             `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// ResponseLib builds wire-ready responses with correct content-type and
// status defaults. Members are function-valued fields rather than methods
// so that `json` keeps its exact name in the sandbox (std.http.json(...)).
type ResponseLib struct {
	JSON     func(data any, status int64) (*Response, error) `json:"json"`
	Text     func(body string, status int64) *Response       `json:"text"`
	HTML     func(body string, status int64) *Response       `json:"html"`
	Redirect func(location string, status int64) *Response   `json:"redirect"`
	Error    func(message string, status int64) *Response    `json:"error"`
}

func init() {
	// ResponseLib carries no state; wire the builders at package init so
	// every New() gets the same pure functions.
	responseLibTemplate = ResponseLib{
		JSON: func(data any, status int64) (*Response, error) {
			body, err := json.Marshal(data)
			if err != nil {
				return nil, fmt.Errorf("response body is not serializable: %w", err)
			}
			return &Response{
				Status:  defaultStatus(status, 200),
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    string(body),
			}, nil
		},
		Text: func(body string, status int64) *Response {
			return &Response{
				Status:  defaultStatus(status, 200),
				Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"},
				Body:    body,
			}
		},
		HTML: func(body string, status int64) *Response {
			return &Response{
				Status:  defaultStatus(status, 200),
				Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
				Body:    body,
			}
		},
		Redirect: func(location string, status int64) *Response {
			return &Response{
				Status:  defaultStatus(status, 302),
				Headers: map[string]string{"Location": location},
			}
		},
		Error: func(message string, status int64) *Response {
			body, _ := json.Marshal(map[string]string{"error": message})
			return &Response{
				Status:  defaultStatus(status, 500),
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    string(body),
			}
		},
	}
}

var responseLibTemplate ResponseLib

func newResponseLib() *ResponseLib {
	lib := responseLibTemplate
	return &lib
}

func defaultStatus(status, fallback int64) int64 {
	if status == 0 {
		return fallback
	}
	return status
}
