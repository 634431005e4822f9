/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package queue_test

import (
	"encoding/json"
	"strings"
	"testing"

	"chainguard.dev/tenantvc/gitrepo"
	"chainguard.dev/tenantvc/queue"
	"github.com/google/go-cmp/cmp"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()
	env := queue.Envelope{
		NodeID:    "core-1",
		RequestID: "req-1",
		TenantID:  "tenant-a",
		Settings:  &gitrepo.Settings{URI: "git@example.com:repo.git", AuthMethod: gitrepo.AuthPrivateKey},
		Request: &queue.Commit{
			TxID: "tx-1",
			Operation: &queue.Add{
				RelativePath: "device/a.json",
				ChunkGroupID: "g1",
				ChunkIndex:   1,
				ChunksCount:  3,
				Data:         `{"v":1}`,
			},
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	var got queue.Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if diff := cmp.Diff(env, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	t.Parallel()
	env := queue.Envelope{
		NodeID:    "core-1",
		RequestID: "req-1",
		TenantID:  "tenant-a",
		Request:   &queue.ListBranches{},
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	if !strings.Contains(string(data), `"kind":"listBranches"`) {
		t.Fatalf("expected a tagged request, got %s", data)
	}
}

func TestEnvelopeUnknownKind(t *testing.T) {
	t.Parallel()
	var env queue.Envelope
	err := json.Unmarshal([]byte(`{"nodeId":"n","requestId":"r","tenantId":"t","request":{"kind":"bogus"}}`), &env)
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected an unknown-kind error, got %v", err)
	}
}

func TestEnvelopeWithoutRequest(t *testing.T) {
	t.Parallel()
	if _, err := json.Marshal(queue.Envelope{RequestID: "r"}); err == nil {
		t.Fatalf("expected an error for an envelope without a request")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	t.Parallel()
	resp := queue.Response{
		RequestID: "req-1",
		Payload: &queue.CommitPayload{
			Added:    2,
			Modified: 1,
			Version:  &gitrepo.Commit{ID: "abc", Message: "msg", Timestamp: 42},
		},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	var got queue.Response
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if diff := cmp.Diff(resp, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorResponseHasNoPayload(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(queue.Response{RequestID: "req-1", Error: "boom"})
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	var got queue.Response
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.Error != "boom" || got.Payload != nil {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestSplitChunks(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name string
		data string
		size int
		want []string
	}{
		{name: "empty", data: "", size: 4, want: []string{""}},
		{name: "fits", data: "abc", size: 4, want: []string{"abc"}},
		{name: "exact", data: "abcd", size: 4, want: []string{"abcd"}},
		{name: "split", data: "abcdefgh!", size: 4, want: []string{"abcd", "efgh", "!"}},
		{name: "unbounded", data: "abc", size: 0, want: []string{"abc"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, queue.SplitChunks(tc.data, tc.size)); diff != "" {
				t.Fatalf("unexpected chunks (-want +got):\n%s", diff)
			}
		})
	}
}
