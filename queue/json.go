/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package queue

import (
	"encoding/json"
	"fmt"
)

// The unions travel as {"kind": "...", "body": {...}} objects. The kind
// tables below are the single source of truth for the wire names; encoding
// an unregistered type is an error, not a silent fallback.

type tagged struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// RequestKind returns the wire name of a request, or "" for nil/unknown.
func RequestKind(r Request) string {
	switch r.(type) {
	case *ClearRepository:
		return "clearRepository"
	case *TestRepository:
		return "testRepository"
	case *InitRepository:
		return "initRepository"
	case *Commit:
		return "commit"
	case *ListBranches:
		return "listBranches"
	case *ListVersions:
		return "listVersions"
	case *ListEntities:
		return "listEntities"
	case *EntityContent:
		return "entityContent"
	case *EntitiesContent:
		return "entitiesContent"
	case *VersionsDiff:
		return "versionsDiff"
	default:
		return ""
	}
}

func newRequest(kind string) Request {
	switch kind {
	case "clearRepository":
		return &ClearRepository{}
	case "testRepository":
		return &TestRepository{}
	case "initRepository":
		return &InitRepository{}
	case "commit":
		return &Commit{}
	case "listBranches":
		return &ListBranches{}
	case "listVersions":
		return &ListVersions{}
	case "listEntities":
		return &ListEntities{}
	case "entityContent":
		return &EntityContent{}
	case "entitiesContent":
		return &EntitiesContent{}
	case "versionsDiff":
		return &VersionsDiff{}
	default:
		return nil
	}
}

func operationKind(op CommitOperation) string {
	switch op.(type) {
	case *Prepare:
		return "prepare"
	case *Add:
		return "add"
	case *Delete:
		return "delete"
	case *Push:
		return "push"
	case *Abort:
		return "abort"
	default:
		return ""
	}
}

func newOperation(kind string) CommitOperation {
	switch kind {
	case "prepare":
		return &Prepare{}
	case "add":
		return &Add{}
	case "delete":
		return &Delete{}
	case "push":
		return &Push{}
	case "abort":
		return &Abort{}
	default:
		return nil
	}
}

func payloadKind(p Payload) string {
	switch p.(type) {
	case *GenericPayload:
		return "generic"
	case *CommitPayload:
		return "commit"
	case *BranchesPayload:
		return "branches"
	case *VersionsPayload:
		return "versions"
	case *EntitiesPayload:
		return "entities"
	case *EntityContentPayload:
		return "entityContent"
	case *EntitiesContentPayload:
		return "entitiesContent"
	case *DiffPayload:
		return "diff"
	default:
		return ""
	}
}

func newPayload(kind string) Payload {
	switch kind {
	case "generic":
		return &GenericPayload{}
	case "commit":
		return &CommitPayload{}
	case "branches":
		return &BranchesPayload{}
	case "versions":
		return &VersionsPayload{}
	case "entities":
		return &EntitiesPayload{}
	case "entityContent":
		return &EntityContentPayload{}
	case "entitiesContent":
		return &EntitiesContentPayload{}
	case "diff":
		return &DiffPayload{}
	default:
		return nil
	}
}

func marshalTagged(kind string, v any) (json.RawMessage, error) {
	if kind == "" {
		return nil, fmt.Errorf("unregistered union member %T", v)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tagged{Kind: kind, Body: body})
}

// MarshalJSON encodes the envelope with its tagged request.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Request == nil {
		return nil, fmt.Errorf("envelope %s has no request", e.RequestID)
	}
	req, err := marshalTagged(RequestKind(e.Request), e.Request)
	if err != nil {
		return nil, err
	}
	type alias Envelope
	return json.Marshal(struct {
		alias
		Request json.RawMessage `json:"request"`
	}{alias(e), req})
}

// UnmarshalJSON decodes the envelope and its tagged request.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	var raw struct {
		alias
		Request json.RawMessage `json:"request"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Envelope(raw.alias)
	var t tagged
	if err := json.Unmarshal(raw.Request, &t); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	req := newRequest(t.Kind)
	if req == nil {
		return fmt.Errorf("unknown request kind %q", t.Kind)
	}
	if len(t.Body) > 0 {
		if err := json.Unmarshal(t.Body, req); err != nil {
			return fmt.Errorf("decoding %s request: %w", t.Kind, err)
		}
	}
	e.Request = req
	return nil
}

// MarshalJSON encodes the commit step with its tagged operation.
func (c Commit) MarshalJSON() ([]byte, error) {
	if c.Operation == nil {
		return nil, fmt.Errorf("commit request %s has no operation", c.TxID)
	}
	op, err := marshalTagged(operationKind(c.Operation), c.Operation)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		TxID      string          `json:"txId"`
		Operation json.RawMessage `json:"operation"`
	}{c.TxID, op})
}

// UnmarshalJSON decodes the commit step and its tagged operation.
func (c *Commit) UnmarshalJSON(data []byte) error {
	var raw struct {
		TxID      string          `json:"txId"`
		Operation json.RawMessage `json:"operation"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.TxID = raw.TxID
	var t tagged
	if err := json.Unmarshal(raw.Operation, &t); err != nil {
		return fmt.Errorf("decoding commit operation: %w", err)
	}
	op := newOperation(t.Kind)
	if op == nil {
		return fmt.Errorf("unknown commit operation %q", t.Kind)
	}
	if len(t.Body) > 0 {
		if err := json.Unmarshal(t.Body, op); err != nil {
			return fmt.Errorf("decoding %s operation: %w", t.Kind, err)
		}
	}
	c.Operation = op
	return nil
}

// MarshalJSON encodes the response with its tagged payload, if any.
func (r Response) MarshalJSON() ([]byte, error) {
	type alias Response
	out := struct {
		alias
		Payload json.RawMessage `json:"payload,omitempty"`
	}{alias: alias(r)}
	if r.Payload != nil {
		p, err := marshalTagged(payloadKind(r.Payload), r.Payload)
		if err != nil {
			return nil, err
		}
		out.Payload = p
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the response and its tagged payload, if any.
func (r *Response) UnmarshalJSON(data []byte) error {
	type alias Response
	var raw struct {
		alias
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Response(raw.alias)
	if len(raw.Payload) == 0 {
		return nil
	}
	var t tagged
	if err := json.Unmarshal(raw.Payload, &t); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	p := newPayload(t.Kind)
	if p == nil {
		return fmt.Errorf("unknown payload kind %q", t.Kind)
	}
	if len(t.Body) > 0 {
		if err := json.Unmarshal(t.Body, p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", t.Kind, err)
		}
	}
	r.Payload = p
	return nil
}
