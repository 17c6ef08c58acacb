// internal/data/parser.go
package data

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

var (
	ErrMissingTopic = errors.New("envelope has no topic_id")
	ErrArity        = errors.New("array arity mismatch")
	ErrNotNumeric   = errors.New("non-numeric array element")
	ErrShape        = errors.New("unsupported field shape")
)

// Parse decodes one upstream frame into an Envelope.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.MQTTData.TopicID == "" {
		return nil, ErrMissingTopic
	}
	env.ReceivedAt = time.Now()
	return &env, nil
}

// ParseVibration decodes a comma-separated magnitude array. The array must
// have exactly arity elements; partial frames are never returned.
func ParseVibration(raw json.RawMessage, arity int) ([]Value, error) {
	tokens, err := tokenize(raw)
	if err != nil {
		return nil, err
	}
	if len(tokens) != arity {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrArity, len(tokens), arity)
	}
	values := make([]Value, len(tokens))
	for i, tok := range tokens {
		if tok == "" {
			return nil, fmt.Errorf("%w: empty element at %d", ErrNotNumeric, i)
		}
		v, err := parseNumber(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: %q at %d", ErrNotNumeric, tok, i)
		}
		values[i] = Num(v)
	}
	return values, nil
}

// DigitalState tags the outcome of ParseDigital.
type DigitalState int

const (
	DigitalAbsent DigitalState = iota // field not present in the frame
	DigitalValid
	DigitalInvalid
)

// DigitalResult is the normalized gas/fire payload.
type DigitalResult struct {
	State  DigitalState
	Values []Value
	Err    error
}

// ParseDigital normalizes a gas/fire field, which upstream sends as a
// delimited string, a scalar, or an array. Empty elements become Absent
// values; any non-numeric element invalidates the whole field.
func ParseDigital(raw json.RawMessage) DigitalResult {
	if isNull(raw) {
		return DigitalResult{State: DigitalAbsent}
	}
	tokens, err := tokenize(raw)
	if err != nil {
		return DigitalResult{State: DigitalInvalid, Err: err}
	}
	values := make([]Value, len(tokens))
	for i, tok := range tokens {
		if tok == "" {
			values[i] = Absent
			continue
		}
		v, err := parseNumber(tok)
		if err != nil {
			return DigitalResult{
				State: DigitalInvalid,
				Err:   fmt.Errorf("%w: %q at %d", ErrNotNumeric, tok, i),
			}
		}
		values[i] = Num(v)
	}
	return DigitalResult{State: DigitalValid, Values: values}
}

// ParseTimestamp reads the upstream last_update_time. Missing or unparseable
// timestamps fall back to the receive time.
func ParseTimestamp(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	// "2006-01-02 15:04:05" is common upstream; iso8601 wants the T separator.
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	t, err := iso8601.ParseString(s)
	if err != nil {
		return fallback
	}
	return t
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// tokenize flattens the accepted shapes (string, number, array) into trimmed
// string tokens.
func tokenize(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrShape
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShape, err)
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShape, err)
		}
		tokens := make([]string, len(elems))
		for i, e := range elems {
			tok, err := scalarToken(e)
			if err != nil {
				return nil, err
			}
			tokens[i] = tok
		}
		return tokens, nil

	default:
		tok, err := scalarToken(trimmed)
		if err != nil {
			return nil, err
		}
		return []string{tok}, nil
	}
}

func scalarToken(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if isNull(trimmed) {
		return "", nil
	}
	switch {
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrShape, err)
		}
		return strings.TrimSpace(s), nil
	case trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9'):
		return string(trimmed), nil
	}
	return "", fmt.Errorf("%w: %s", ErrShape, trimmed)
}

func parseNumber(tok string) (float64, error) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotNumeric
	}
	return v, nil
}

// FieldPresent reports whether a raw payload field carries anything.
func FieldPresent(raw json.RawMessage) bool {
	return !isNull(raw)
}
