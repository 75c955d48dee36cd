package server

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type rateRequest struct {
	Rating  looseNumber `json:"rating"`
	Comment looseString `json:"comment"`
	User    looseString `json:"user"`
	Persona looseString `json:"persona"`
}

type feedbackRequest struct {
	Comment looseString `json:"comment"`
	User    looseString `json:"user"`
	Persona looseString `json:"persona"`
}

// looseNumber accepts a JSON number or numeric string. Anything else,
// including non-finite values, decodes to 0 so rating validation rejects it.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	*n = 0
	data = bytes.TrimSpace(data)
	var raw string
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
		raw = strings.TrimSpace(raw)
	default:
		raw = string(data)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*n = looseNumber(v)
	return nil
}

// looseString accepts strings, numbers and booleans; other values decode to "".
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	*s = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
	case 't', 'f':
		*s = looseString(data)
	case 'n', '{', '[':
	default:
		*s = looseString(data)
	}
	return nil
}
