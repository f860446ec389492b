package intel

import (
	"encoding/json"
	"fmt"
)

// DetailState is the resolution state of a lazily filled detail field.
type DetailState int

const (
	// DetailPending means the value has not been resolved yet.
	DetailPending DetailState = iota
	// DetailUnavailable means resolution ended without a value, for example
	// because access was denied. It is terminal.
	DetailUnavailable
	// DetailPresent means the value is set.
	DetailPresent
)

func (s DetailState) String() string {
	switch s {
	case DetailPending:
		return "pending"
	case DetailUnavailable:
		return "unavailable"
	case DetailPresent:
		return "present"
	default:
		return fmt.Sprintf("DetailState(%d)", int(s))
	}
}

// Detail is a value that is pending, unavailable or present.
type Detail[T any] struct {
	State DetailState
	Value T
}

// Pending returns a detail that is not resolved yet.
func Pending[T any]() Detail[T] {
	return Detail[T]{State: DetailPending}
}

// Unavailable returns a detail that resolved without a value.
func Unavailable[T any]() Detail[T] {
	return Detail[T]{State: DetailUnavailable}
}

// Present returns a resolved detail.
func Present[T any](v T) Detail[T] {
	return Detail[T]{State: DetailPresent, Value: v}
}

// Get returns the value and whether it is present.
func (d Detail[T]) Get() (T, bool) {
	return d.Value, d.State == DetailPresent
}

// IsPending reports whether the detail still awaits resolution.
func (d Detail[T]) IsPending() bool {
	return d.State == DetailPending
}

type detailJSON[T any] struct {
	State string `json:"state"`
	Value *T     `json:"value,omitempty"`
}

// MarshalJSON renders {"state": "...", "value": ...}; value is only set when
// the detail is present.
func (d Detail[T]) MarshalJSON() ([]byte, error) {
	out := detailJSON[T]{State: d.State.String()}
	if d.State == DetailPresent {
		v := d.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the format produced by MarshalJSON.
func (d *Detail[T]) UnmarshalJSON(data []byte) error {
	var in detailJSON[T]
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.State {
	case "present":
		if in.Value == nil {
			return fmt.Errorf("detail: present without value")
		}
		*d = Present(*in.Value)
	case "unavailable":
		*d = Unavailable[T]()
	case "pending", "":
		*d = Pending[T]()
	default:
		return fmt.Errorf("detail: unknown state %q", in.State)
	}
	return nil
}
