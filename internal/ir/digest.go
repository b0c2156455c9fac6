package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainWitness    = "mason/witness/v1"
	DomainCheckpoint = "mason/checkpoint/v1"
	DomainTemplate   = "mason/template/v1"
	DomainOp         = "mason/op/v1"
	DomainGoalKey    = "mason/goalkey/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest computes a domain-separated content address over the canonical
// JSON form of v. The result is stable across restarts and processes for
// identical inputs.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: marshal: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDigest(domain string, v any) string {
	d, err := Digest(domain, v)
	if err != nil {
		panic(err)
	}
	return d
}

// WitnessDigest computes the content address of a witness body.
// The body must already be in deterministic (sorted) form; the digest is the
// sole cross-session equality check for "same expected end-state".
func WitnessDigest(body Object) (string, error) {
	return Digest(DomainWitness, body)
}

// CheckpointID computes the content-addressed checkpoint identity from the
// logical state it records. Two checkpoints with the same ID describe
// identical logical progress.
func CheckpointID(templateDigest string, moduleCursor int64, completed []string) (string, error) {
	list := make(Array, len(completed))
	for i, m := range completed {
		list[i] = String(m)
	}
	return Digest(DomainCheckpoint, Object{
		"template_digest": String(templateDigest),
		"module_cursor":   Int(moduleCursor),
		"completed":       list,
	})
}

// TemplateDigest computes the content address of a compiled macro plan.
func TemplateDigest(modules Array) (string, error) {
	return Digest(DomainTemplate, Object{"modules": modules})
}

// OpID computes the content-addressed identity of one atomic operation
// within a module. Includes the op's index so repeated identical placements
// inside one module stay distinct.
func OpID(moduleID string, index int64, body Object) (string, error) {
	return Digest(DomainOp, Object{
		"module_id": String(moduleID),
		"index":     Int(index),
		"op":        body,
	})
}

// GoalKeyA computes the Phase A (provisional) lookup key for a goal intent:
// goal type, intent params, and the coarse grid cell of the requester.
// Nearby repeated requests collapse onto the same key before any site is
// committed.
func GoalKeyA(goalType string, params Object, cellX, cellZ int64) (string, error) {
	return Digest(DomainGoalKey, Object{
		"phase":     String("A"),
		"goal_type": String(goalType),
		"params":    params,
		"cell_x":    Int(cellX),
		"cell_z":    Int(cellZ),
	})
}

// GoalKeyB computes the Phase B (anchored) lookup key over the committed
// site anchor. templateDigest is included for template-following goal types
// and must be empty for open-ended ones, so that evolving the approach does
// not fork identity.
func GoalKeyB(goalType string, anchor Object, templateDigest string) (string, error) {
	body := Object{
		"phase":     String("B"),
		"goal_type": String(goalType),
		"anchor":    anchor,
	}
	if templateDigest != "" {
		body["template_digest"] = String(templateDigest)
	}
	return Digest(DomainGoalKey, body)
}
