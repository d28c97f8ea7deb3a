package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room for a
// future algorithm change without colliding with existing hashes.
const (
	DomainObject = "realm/object/v1"
	DomainSchema = "realm/schema/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The NUL separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ObjectHash computes the content hash of an object. Two objects hash
// equal iff class, id and every field are equal, which is what engines use
// to decide whether an observed object changed between versions.
func ObjectHash(o Object) (string, error) {
	fields := o.Fields
	if fields == nil {
		fields = Map{}
	}
	canonical, err := MarshalCanonical(Map{
		"class":  String(o.Class),
		"id":     String(o.ID),
		"fields": fields,
	})
	if err != nil {
		return "", fmt.Errorf("ObjectHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainObject, canonical), nil
}

// MustObjectHash is like ObjectHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustObjectHash(o Object) string {
	h, err := ObjectHash(o)
	if err != nil {
		panic(err)
	}
	return h
}

// SchemaHash computes a stable hash of a schema. Engines persist it so a
// file opened with a different schema is reported as a mismatch.
func SchemaHash(s Schema) (string, error) {
	classes := make(Map, len(s.Classes))
	for _, c := range s.Classes {
		props := make(Map, len(c.Properties))
		for _, p := range c.Properties {
			props[p.Name] = Map{
				"type":     String(p.Type),
				"optional": Bool(p.Optional),
			}
		}
		classes[c.Name] = Map{
			"primary_key": String(c.PrimaryKey),
			"properties":  props,
		}
	}
	canonical, err := MarshalCanonical(classes)
	if err != nil {
		return "", fmt.Errorf("SchemaHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSchema, canonical), nil
}
