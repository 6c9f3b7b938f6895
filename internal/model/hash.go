package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainEnvelope prefixes envelope hashes. The version suffix leaves room
// for a future change of algorithm.
const DomainEnvelope = "livesync/envelope/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EnvelopeHash computes the content hash of a notification. Two
// deliveries of the same change hash identically; Seq is not an input.
func EnvelopeHash(name, entityID string, doc Document) (string, error) {
	obj := map[string]any{
		"name":      name,
		"entity_id": entityID,
		"doc":       map[string]any(doc),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EnvelopeHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEnvelope, canonical), nil
}

// Hash returns EnvelopeHash for e.
func (e Envelope) Hash() (string, error) {
	return EnvelopeHash(e.Name, e.EntityID, e.Document)
}
