package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dokzlo13/worldmapd/internal/remote"
)

// Command names accepted by the invoker
const (
	NameCreateEntity = "create_entity"
	NameUpdateEntity = "update_entity"
	NameDeleteEntity = "delete_entity"
	NameSetColor     = "set_color"
)

// ErrUnknownCommand is returned for a command name nobody registered
var ErrUnknownCommand = errors.New("unknown command")

// ValidationError reports a request field that failed validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Request is a decoded command body
type Request interface {
	Command() string
	Validate() error
}

// CreateEntity asks the remote store to create an entity
type CreateEntity struct {
	Name      *string `json:"name"`
	StartAddr *int    `json:"start_addr"`
	EndAddr   *int    `json:"end_addr"`
	ParentID  *int    `json:"parent_id,omitempty"`
}

func (CreateEntity) Command() string { return NameCreateEntity }

func (r CreateEntity) Validate() error {
	return validateEntity(r.Name, r.StartAddr, r.EndAddr, r.ParentID)
}

// Input converts a validated request to the wire body
func (r CreateEntity) Input() remote.EntityInput {
	return remote.EntityInput{
		Name:      *r.Name,
		StartAddr: *r.StartAddr,
		EndAddr:   *r.EndAddr,
		ParentID:  r.ParentID,
	}
}

// UpdateEntity replaces an existing entity
type UpdateEntity struct {
	ID        *int    `json:"id"`
	Name      *string `json:"name"`
	StartAddr *int    `json:"start_addr"`
	EndAddr   *int    `json:"end_addr"`
	ParentID  *int    `json:"parent_id,omitempty"`
}

func (UpdateEntity) Command() string { return NameUpdateEntity }

func (r UpdateEntity) Validate() error {
	if err := requireID("id", r.ID); err != nil {
		return err
	}
	return validateEntity(r.Name, r.StartAddr, r.EndAddr, r.ParentID)
}

// Input converts a validated request to the wire body
func (r UpdateEntity) Input() remote.EntityInput {
	return remote.EntityInput{
		ID:        *r.ID,
		Name:      *r.Name,
		StartAddr: *r.StartAddr,
		EndAddr:   *r.EndAddr,
		ParentID:  r.ParentID,
	}
}

// DeleteEntity removes an entity by id
type DeleteEntity struct {
	ID *int `json:"id"`
}

func (DeleteEntity) Command() string { return NameDeleteEntity }

func (r DeleteEntity) Validate() error {
	return requireID("id", r.ID)
}

// SetColor is a raw color command. Brightness is on the remote scale 0..100.
type SetColor struct {
	Entity     *int  `json:"entity"`
	Red        *int  `json:"red"`
	Green      *int  `json:"green"`
	Blue       *int  `json:"blue"`
	Brightness *int  `json:"brightness"`
	IsOn       *bool `json:"is_on"`
}

func (SetColor) Command() string { return NameSetColor }

func (r SetColor) Validate() error {
	if err := requireID("entity", r.Entity); err != nil {
		return err
	}
	for _, ch := range []struct {
		name string
		v    *int
	}{{"red", r.Red}, {"green", r.Green}, {"blue", r.Blue}} {
		if err := requireRange(ch.name, ch.v, 0, 255); err != nil {
			return err
		}
	}
	if err := requireRange("brightness", r.Brightness, 0, 100); err != nil {
		return err
	}
	if r.IsOn == nil {
		return &ValidationError{Field: "is_on", Reason: "required"}
	}
	return nil
}

// ColorCommand converts a validated request to the wire command
func (r SetColor) ColorCommand() remote.ColorCommand {
	return remote.ColorCommand{
		Entity:     *r.Entity,
		Red:        uint8(*r.Red),
		Green:      uint8(*r.Green),
		Blue:       uint8(*r.Blue),
		Brightness: *r.Brightness,
		IsOn:       *r.IsOn,
	}
}

// Decode parses and validates a command body. Unknown fields are rejected.
func Decode(name string, body []byte) (Request, error) {
	var req Request
	switch name {
	case NameCreateEntity:
		req = &CreateEntity{}
	case NameUpdateEntity:
		req = &UpdateEntity{}
	case NameDeleteEntity:
		req = &DeleteEntity{}
	case NameSetColor:
		req = &SetColor{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func validateEntity(name *string, start, end, parent *int) error {
	if name == nil || *name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if err := requireRange("start_addr", start, 0, -1); err != nil {
		return err
	}
	if err := requireRange("end_addr", end, 0, -1); err != nil {
		return err
	}
	if *start > *end {
		return &ValidationError{Field: "end_addr", Reason: "must not be less than start_addr"}
	}
	if parent != nil && *parent < 1 {
		return &ValidationError{Field: "parent_id", Reason: "must be a positive integer"}
	}
	return nil
}

func requireID(field string, v *int) error {
	if v == nil {
		return &ValidationError{Field: field, Reason: "required"}
	}
	if *v < 1 {
		return &ValidationError{Field: field, Reason: "must be a positive integer"}
	}
	return nil
}

// requireRange checks lo <= v and, when hi >= 0, v <= hi
func requireRange(field string, v *int, lo, hi int) error {
	if v == nil {
		return &ValidationError{Field: field, Reason: "required"}
	}
	if hi < 0 {
		if *v < lo {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at least %d", lo)}
		}
		return nil
	}
	if *v < lo || *v > hi {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return nil
}
