// Package reposync host trust policy.
// This file contains the trust-on-first-use fingerprint pinning policy
// with an explicit rotation gate.
package reposync

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gossh "golang.org/x/crypto/ssh"
)

// TrustDecision is the result of one trust evaluation.
type TrustDecision int8

const (
	// TrustRejected means the presented key was not accepted and nothing
	// was persisted.
	TrustRejected TrustDecision = iota

	// TrustAlreadyTrusted means the presented fingerprint equals the pinned
	// one; no side effect.
	TrustAlreadyTrusted

	// TrustAndPin means the user approved the key (first contact or
	// rotation) and the pin was persisted.
	TrustAndPin
)

// String returns a human-readable representation of the decision.
func (d TrustDecision) String() string {
	switch d {
	case TrustRejected:
		return "rejected"
	case TrustAlreadyTrusted:
		return "already-trusted"
	case TrustAndPin:
		return "trust-and-pin"
	default:
		return "unknown"
	}
}

// FingerprintStore is the persistence boundary for pinned host keys.
// Rows are keyed by the (host, port, algorithm) triple.
type FingerprintStore interface {
	// Lookup returns the pinned record for the triple, or nil if none.
	Lookup(ctx context.Context, host string, port int, algorithm string) (*HostFingerprintRecord, error)
	// Persist creates or overwrites the row for the record's triple.
	Persist(ctx context.Context, record HostFingerprintRecord) error
}

// TrustPromptRequest carries everything the interactive-or-policy prompt
// needs to render a decision. PreviousFingerprint is empty on first
// contact and set on a rotation.
type TrustPromptRequest struct {
	Host                string
	Port                int
	Algorithm           string
	Fingerprint         string
	PreviousFingerprint string
}

// TrustPrompt is the user-interaction boundary of the trust policy. A
// prompt may wait on user input indefinitely; implementations must honor
// ctx cancellation.
type TrustPrompt interface {
	Approve(ctx context.Context, req TrustPromptRequest) (bool, error)
}

// TrustPromptFunc adapts a function to the TrustPrompt interface.
type TrustPromptFunc func(ctx context.Context, req TrustPromptRequest) (bool, error)

func (f TrustPromptFunc) Approve(ctx context.Context, req TrustPromptRequest) (bool, error) {
	return f(ctx, req)
}

// HostTrust is the evaluation boundary the sync engine calls through.
type HostTrust interface {
	Evaluate(ctx context.Context, host string, port int, algorithm, fingerprint string) (TrustDecision, error)
}

// TrustEvaluator implements trust-on-first-use pinning with a rotation
// gate. All persistence and prompting go through the injected
// collaborators; evaluations are serialized per (host, port, algorithm) so
// two concurrent first-contacts cannot race into divergent pins.
type TrustEvaluator struct {
	store  FingerprintStore
	prompt TrustPrompt
	locks  *KeyedLock
	now    func() time.Time
}

// NewTrustEvaluator wires the policy to its fingerprint store and prompt.
func NewTrustEvaluator(store FingerprintStore, prompt TrustPrompt) *TrustEvaluator {
	return &TrustEvaluator{
		store:  store,
		prompt: prompt,
		locks:  NewKeyedLock(),
		now:    time.Now,
	}
}

// Evaluate decides whether the presented fingerprint is acceptable for
// (host, port, algorithm).
//
//  1. Pinned and equal: TrustAlreadyTrusted, no side effect.
//  2. Pinned and different: rotation gate. Without approval the store is
//     untouched and a *HostMismatchError is returned; with approval the
//     row is overwritten and TrustAndPin returned.
//  3. Unpinned: first contact. Without approval ErrHostTrustRejected;
//     with approval a new row is persisted and TrustAndPin returned.
func (e *TrustEvaluator) Evaluate(ctx context.Context, host string, port int, algorithm, fingerprint string) (TrustDecision, error) {
	release, err := e.locks.Acquire(ctx, trustKey(host, port, algorithm))
	if err != nil {
		return TrustRejected, err
	}
	defer release()

	pinned, err := e.store.Lookup(ctx, host, port, algorithm)
	if err != nil {
		return TrustRejected, WrapError(err, "fingerprint lookup failed")
	}

	if pinned != nil && pinned.FingerprintSHA256 == fingerprint {
		return TrustAlreadyTrusted, nil
	}

	req := TrustPromptRequest{
		Host:        host,
		Port:        port,
		Algorithm:   algorithm,
		Fingerprint: fingerprint,
	}
	if pinned != nil {
		req.PreviousFingerprint = pinned.FingerprintSHA256
	}

	approved, err := e.prompt.Approve(ctx, req)
	if err != nil {
		return TrustRejected, WrapError(err, "trust prompt failed")
	}

	if !approved {
		if pinned != nil {
			return TrustRejected, &HostMismatchError{
				Host:     host,
				Port:     port,
				Expected: pinned.FingerprintSHA256,
				Got:      fingerprint,
			}
		}
		return TrustRejected, WrapErrorf(ErrHostTrustRejected, "%s:%d (%s)", host, port, algorithm)
	}

	record := HostFingerprintRecord{
		Host:              host,
		Port:              port,
		Algorithm:         algorithm,
		FingerprintSHA256: fingerprint,
		AcceptedAt:        e.now(),
	}
	if err := e.store.Persist(ctx, record); err != nil {
		return TrustRejected, WrapError(err, "fingerprint persist failed")
	}
	return TrustAndPin, nil
}

func trustKey(host string, port int, algorithm string) string {
	return fmt.Sprintf("%s:%d/%s", host, port, algorithm)
}

// hostKeyGate adapts a HostTrust evaluation into the SSH handshake's host
// key callback. The SSH layer does not preserve error wrapping across the
// handshake, so the gate records the evaluation error on the side and Err
// recovers it after a failed transport operation.
type hostKeyGate struct {
	ctx   context.Context
	trust HostTrust

	mu  sync.Mutex
	err error
}

func newHostKeyGate(ctx context.Context, trust HostTrust) *hostKeyGate {
	return &hostKeyGate{ctx: ctx, trust: trust}
}

// Callback returns the x/crypto host key callback presented to the
// transport, or nil when no trust policy is configured.
func (g *hostKeyGate) Callback() gossh.HostKeyCallback {
	if g.trust == nil {
		return nil
	}
	return func(hostname string, remote net.Addr, key gossh.PublicKey) error {
		host, port := splitHostPort(hostname, remote)
		_, err := g.trust.Evaluate(g.ctx, host, port, key.Type(), gossh.FingerprintSHA256(key))
		if err != nil {
			g.mu.Lock()
			g.err = err
			g.mu.Unlock()
		}
		return err
	}
}

// Err substitutes the recorded trust error for the opaque transport error
// when the handshake failed on host key verification.
func (g *hostKeyGate) Err(err error) error {
	if err == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	return err
}

// splitHostPort extracts host and port from the handshake hostname,
// falling back to the dialed address and then the default SSH port.
func splitHostPort(hostname string, remote net.Addr) (string, int) {
	host, portStr, err := net.SplitHostPort(hostname)
	if err != nil {
		host = hostname
		portStr = ""
		if remote != nil {
			if _, p, splitErr := net.SplitHostPort(remote.String()); splitErr == nil {
				portStr = p
			}
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		port = DefaultSSHPort
	}
	return host, port
}
