/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	cryptossh "golang.org/x/crypto/ssh"
)

// AuthMethod selects how transport commands authenticate against the remote.
type AuthMethod string

const (
	AuthNone             AuthMethod = "NONE"
	AuthUsernamePassword AuthMethod = "USERNAME_PASSWORD"
	AuthPrivateKey       AuthMethod = "PRIVATE_KEY"
)

// Settings is the immutable configuration identifying which physical
// repository backs a tenant. It is a comparable value type; the coordinator
// re-initializes a tenant's repository whenever the settings accompanying a
// request differ from the ones the repository was opened with.
type Settings struct {
	// URI is the remote repository URI. Ignored for transport when LocalOnly
	// is set, but still part of the identity (it selects the local directory).
	URI string `json:"uri"`

	AuthMethod         AuthMethod `json:"authMethod"`
	Username           string     `json:"username,omitempty"`
	Password           string     `json:"password,omitempty"`
	PrivateKey         string     `json:"privateKey,omitempty"`
	PrivateKeyPassword string     `json:"privateKeyPassword,omitempty"`

	// ReadOnly repositories reject push.
	ReadOnly bool `json:"readOnly,omitempty"`

	// ShowMergeCommits includes merge commits in version listings.
	ShowMergeCommits bool `json:"showMergeCommits,omitempty"`

	// LocalOnly repositories have no remote: push and fetch are no-ops and
	// branch resolution skips the remote-tracking prefix.
	LocalOnly bool `json:"localOnly,omitempty"`
}

// auth builds the go-git transport auth for these settings. Returns nil for
// AuthNone. Private keys accept any host key, matching the original
// deployment model where the remote is operator-configured.
func (s Settings) auth() (transport.AuthMethod, error) {
	switch s.AuthMethod {
	case AuthUsernamePassword:
		return &githttp.BasicAuth{
			Username: s.Username,
			Password: s.Password,
		}, nil
	case AuthPrivateKey:
		keys, err := gitssh.NewPublicKeys("git", []byte(s.PrivateKey), s.PrivateKeyPassword)
		if err != nil {
			return nil, fmt.Errorf("loading ssh private key: %w", err)
		}
		keys.HostKeyCallback = cryptossh.InsecureIgnoreHostKey() //nolint:gosec // see above
		return keys, nil
	default:
		return nil, nil
	}
}
