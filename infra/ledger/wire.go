package ledger

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexFloat accepts both JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

// response is the body shared by every ledger endpoint. Fields not relevant
// to an activity are left zero.
type response struct {
	Success          bool       `json:"success"`
	Message          string     `json:"message,omitempty"`
	Length           flexFloat  `json:"length,omitempty"`
	Width            flexFloat  `json:"width,omitempty"`
	Height           flexFloat  `json:"height,omitempty"`
	IsAvailable      *bool      `json:"is_available,omitempty"`
	UnitID           flexString `json:"unit_id,omitempty"`
	VerificationCode string     `json:"verification_code,omitempty"`
}
