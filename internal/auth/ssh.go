// Package auth builds go-git SSH authentication methods from ephemeral
// credential material.
package auth

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// DefaultUsername is used when the credential carries no username.
const DefaultUsername = "git"

// PublicKeys builds a public-key auth method from in-memory private key
// material. The passphrase, when non-empty, decrypts the key. The host key
// callback is mandatory for remote operations; passing nil disables host
// verification and is only acceptable for local test remotes.
func PublicKeys(username string, privateKeyPEM, passphrase []byte, hostKey gossh.HostKeyCallback) (*ssh.PublicKeys, error) {
	var signer gossh.Signer
	var err error
	if len(passphrase) > 0 {
		signer, err = gossh.ParsePrivateKeyWithPassphrase(privateKeyPEM, passphrase)
	} else {
		signer, err = gossh.ParsePrivateKey(privateKeyPEM)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key from bytes: %w", err)
	}

	if username == "" {
		username = DefaultUsername
	}

	method := &ssh.PublicKeys{
		User:   username,
		Signer: signer,
	}
	if hostKey != nil {
		method.HostKeyCallback = hostKey
	}
	return method, nil
}
