// Package wire defines the subjects and JSON envelopes exchanged between the
// console and the directory over the message bus.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/intel"
)

const prefix = "inteldesk"

// Subjects.
const (
	OpenDeliveriesPrefix = prefix + ".deliveries.open."
	OpenDeliveriesAll    = OpenDeliveriesPrefix + "*"

	ControlSubscribe   = prefix + ".control.open-deliveries.subscribe"
	ControlUnsubscribe = prefix + ".control.open-deliveries.unsubscribe"

	LookupOperation        = prefix + ".lookup.operation"
	LookupUser             = prefix + ".lookup.user"
	LookupAddressBookEntry = prefix + ".lookup.address-book-entry"
	LookupIntel            = prefix + ".lookup.intel"
	LookupDeliveryAttempts = prefix + ".lookup.delivery-attempts"
	LookupChannels         = prefix + ".lookup.channels"

	ActionScheduleAttempt = prefix + ".action.schedule-attempt"
	ActionCancelDelivery  = prefix + ".action.cancel-delivery"
)

// OpenDeliveriesSubject is the push subject for one operation.
func OpenDeliveriesSubject(operationID string) string {
	return OpenDeliveriesPrefix + operationID
}

// OperationFromSubject extracts the operation id from a push subject.
func OperationFromSubject(subject string) (string, bool) {
	id, ok := strings.CutPrefix(subject, OpenDeliveriesPrefix)
	if !ok || id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

// OpenDeliveriesPush is the full replacement set of open deliveries for one
// operation.
type OpenDeliveriesPush struct {
	OperationID string                    `json:"operation_id"`
	Deliveries  []intel.OpenIntelDelivery `json:"deliveries"`
}

// ControlMessage announces interest in an operation's push feed.
type ControlMessage struct {
	OperationID string `json:"operation_id"`
}

// LookupRequest asks for one entity by id.
type LookupRequest struct {
	ID string `json:"id"`
}

// ScheduleAttemptRequest asks to schedule a delivery attempt.
type ScheduleAttemptRequest struct {
	DeliveryID string `json:"delivery_id"`
	ChannelID  string `json:"channel_id"`
}

// CancelDeliveryRequest closes a delivery, successful or not.
type CancelDeliveryRequest struct {
	DeliveryID string `json:"delivery_id"`
	Success    bool   `json:"success"`
	Note       string `json:"note,omitempty"`
}

// Error is the failure part of a Reply.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply wraps every request/reply answer.
type Reply struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Encode marshals v. Values are plain structs, so failures indicate
// programmer error and are returned as internal errors.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode message")
	}
	return data, nil
}

// Decode unmarshals data into v.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeDecode, "decode message")
	}
	return nil
}

// OK builds a successful reply carrying v.
func OK(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return Fail(errors.Wrap(err, errors.ErrCodeInternal, "encode reply"))
	}
	out, _ := json.Marshal(Reply{Data: data})
	return out
}

// Fail builds an error reply. Coded errors keep their code; anything else is
// reported as internal.
func Fail(err error) []byte {
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	out, _ := json.Marshal(Reply{Error: &Error{Code: string(code), Message: err.Error()}})
	return out
}

// DecodeReply unpacks a reply into v, turning error replies back into coded
// errors.
func DecodeReply(data []byte, v any) error {
	var reply Reply
	if err := Decode(data, &reply); err != nil {
		return err
	}
	if reply.Error != nil {
		return errors.New(errors.ErrorCode(reply.Error.Code), reply.Error.Message)
	}
	if v == nil {
		return nil
	}
	if len(reply.Data) == 0 {
		return errors.New(errors.ErrCodeDecode, "reply carries no data")
	}
	if err := json.Unmarshal(reply.Data, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeDecode, fmt.Sprintf("decode %T", v))
	}
	return nil
}
