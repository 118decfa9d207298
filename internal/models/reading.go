package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Reading is one telemetry sample as posted by a sensor.
type Reading struct {
	Name     string  `json:"name"`
	AuthCode string  `json:"auth-code"`
	Temp     float32 `json:"temp"`
	Humidity float32 `json:"humidity"`
	Pressure float32 `json:"pressure"`
}

// StoredRow is a Reading plus the server-assigned time and id.
type StoredRow struct {
	Name     string
	AuthCode string
	Humidity float32
	Pressure float32
	Temp     float32
	// Time is Unix seconds truncated to 32 bits; it wraps in 2038.
	Time int32
	ID   uuid.UUID
}

// NewStoredRow copies r and stamps it with ts and id.
func NewStoredRow(r Reading, ts int32, id uuid.UUID) StoredRow {
	return StoredRow{
		Name:     r.Name,
		AuthCode: r.AuthCode,
		Humidity: r.Humidity,
		Pressure: r.Pressure,
		Temp:     r.Temp,
		Time:     ts,
		ID:       id,
	}
}

// UnixSeconds32 truncates t to 32-bit Unix seconds, keeping the low 32
// bits of the two's complement value (T mod 2^32 read as int32).
func UnixSeconds32(t time.Time) int32 {
	return int32(t.Unix())
}

// DecodeError reports a request body that is not a well-formed Reading.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string { return e.Cause.Error() }

func (e *DecodeError) Unwrap() error { return e.Cause }

// DecodeReading parses a JSON body into a Reading. All five fields are
// required and matched by exact name; a repeated key is rejected and
// unknown fields are ignored. Values are not range checked and the auth
// code is carried through unverified.
func DecodeReading(body []byte) (Reading, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return Reading{}, &DecodeError{Cause: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Reading{}, &DecodeError{Cause: errors.New("trailing data after JSON object")}
	}
	if fields == nil {
		return Reading{}, &DecodeError{Cause: errors.New("body is not a JSON object")}
	}
	if err := rejectDuplicateKeys(body); err != nil {
		return Reading{}, &DecodeError{Cause: err}
	}

	var r Reading
	for _, err := range []error{
		field(fields, "name", &r.Name),
		field(fields, "auth-code", &r.AuthCode),
		field(fields, "temp", &r.Temp),
		field(fields, "humidity", &r.Humidity),
		field(fields, "pressure", &r.Pressure),
	} {
		if err != nil {
			return Reading{}, &DecodeError{Cause: err}
		}
	}
	return r, nil
}

// field unmarshals the value stored under the exact key name. A null
// value counts as missing.
func field[T any](fields map[string]json.RawMessage, name string, dst *T) error {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("missing field %q", name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	return nil
}

// rejectDuplicateKeys walks the top-level keys of an object already known
// to be valid JSON.
func rejectDuplicateKeys(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if _, err := dec.Token(); err != nil {
		return err
	}
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate field %q", key)
		}
		seen[key] = struct{}{}

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
	}
	return nil
}
