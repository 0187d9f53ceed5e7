package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Response is the single terminal message of a session: either a transcript
// or an error, never both.
type Response struct {
	Text  string
	Error string

	failed bool
}

func TextResponse(text string) Response {
	return Response{Text: text}
}

func ErrorResponse(message string) Response {
	return Response{Error: message, failed: true}
}

func (r Response) Failed() bool {
	return r.failed
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.failed {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{Error: r.Error})
	}
	return json.Marshal(struct {
		Text string `json:"text"`
	}{Text: r.Text})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var wire struct {
		Text  *string `json:"text"`
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	switch {
	case wire.Error != nil:
		*r = ErrorResponse(*wire.Error)
	case wire.Text != nil:
		*r = TextResponse(*wire.Text)
	default:
		return errors.New("response has neither text nor error")
	}
	return nil
}

// ParseResponse decodes a server message as received by a client.
func ParseResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}
