// Package ingest turns raw realtime frames into typed notifications.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nhle/insync/internal/model"
)

// notificationSchema is the minimum shape a pushed notification must have.
// Optional display fields may be null.
const notificationSchema = `{
	"type": "object",
	"required": ["id", "workspaceId", "message", "eventType"],
	"properties": {
		"id":            {"type": "string", "minLength": 1},
		"workspaceId":   {"type": "string", "minLength": 1},
		"message":       {"type": "string"},
		"eventType":     {"type": "string", "minLength": 1},
		"taskId":        {"type": ["string", "null"]},
		"taskName":      {"type": ["string", "null"]},
		"workspaceName": {"type": ["string", "null"]},
		"creatorId":     {"type": ["string", "null"]},
		"creatorName":   {"type": ["string", "null"]},
		"notifiedAt":    {"type": ["string", "null"]},
		"isRead":        {"type": ["boolean", "null"]}
	}
}`

// DecodeError is a frame that is not a well-formed notification. The
// frame is dropped and the pipeline continues.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding notification: %s: %v", e.Reason, e.Err)
	}
	return "decoding notification: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder validates and decodes pushed notifications.
type Decoder struct {
	schema *gojsonschema.Schema
}

// NewDecoder compiles the notification schema.
func NewDecoder() (*Decoder, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(notificationSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling notification schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

// Decode returns exactly one Notification for a valid frame, or a
// *DecodeError.
func (d *Decoder) Decode(raw []byte) (model.Notification, error) {
	result, err := d.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return model.Notification{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return model.Notification{}, &DecodeError{Reason: strings.Join(errs, "; ")}
	}

	var n model.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return model.Notification{}, &DecodeError{Reason: "unexpected field type", Err: err}
	}
	// Pushes are always new to the recipient.
	n.IsRead = false
	return n, nil
}
