package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// The backend serializes naive UTC datetimes without a zone suffix.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an RFC 3339 timestamp. Timestamps without a zone are
// taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

type wireTime struct {
	t   time.Time
	set bool
}

func (w *wireTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	w.t, w.set = t, true
	return nil
}

func (w wireTime) ptr() *time.Time {
	if !w.set {
		return nil
	}
	t := w.t
	return &t
}

// UnmarshalJSON accepts zone-less timestamps.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	aux := struct {
		*plain
		CreatedAt   wireTime `json:"created_at"`
		UpdatedAt   wireTime `json:"updated_at"`
		ReadAt      wireTime `json:"read_at"`
		DeliveredAt wireTime `json:"delivered_at"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.CreatedAt = aux.CreatedAt.t
	m.UpdatedAt = aux.UpdatedAt.ptr()
	m.ReadAt = aux.ReadAt.ptr()
	m.DeliveredAt = aux.DeliveredAt.ptr()
	return nil
}

func (r *ReadReceipt) UnmarshalJSON(data []byte) error {
	type plain ReadReceipt
	aux := struct {
		*plain
		ReadAt wireTime `json:"read_at"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.ReadAt = aux.ReadAt.ptr()
	return nil
}

func (s *StatusUpdate) UnmarshalJSON(data []byte) error {
	type plain StatusUpdate
	aux := struct {
		*plain
		ReadAt      wireTime `json:"read_at"`
		DeliveredAt wireTime `json:"delivered_at"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.ReadAt = aux.ReadAt.ptr()
	s.DeliveredAt = aux.DeliveredAt.ptr()
	return nil
}
