package protectql

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates a schema/caller bug: a comparison requested an
// index capability the column does not declare, or the column declares none at
// all. Never retried.
type ConfigurationError struct {
	Table     string
	Column    string
	Requested IndexType
	Reason    string
}

func (e *ConfigurationError) Error() string {
	loc := e.Column
	if e.Table != "" {
		loc = e.Table + "." + e.Column
	}
	if e.Requested != "" {
		return fmt.Sprintf("protectql: index %q not enabled on column %s: %s", e.Requested, loc, e.Reason)
	}
	return fmt.Sprintf("protectql: column %s: %s", loc, e.Reason)
}

// EncryptionError wraps a failure surfaced by the encryption engine, with
// enough context to attribute it inside a batched combinator call.
type EncryptionError struct {
	Op     string
	Table  string
	Column string
	Err    error
}

func (e *EncryptionError) Error() string {
	loc := ""
	if e.Column != "" {
		loc = " column " + e.Column
		if e.Table != "" {
			loc = " column " + e.Table + "." + e.Column
		}
	}
	return fmt.Sprintf("protectql: %s:%s encryption failed: %v", e.Op, loc, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// UsageError indicates structural misuse of the API, detected before any
// engine call is attempted.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("protectql: %s: %s", e.Op, e.Reason)
}

// Sentinel errors for the local engine and key providers.
var (
	// ErrDecryptionFailed indicates secretbox authentication failed (wrong key or corrupted data).
	ErrDecryptionFailed = errors.New("protectql: decryption failed")

	// ErrKeyIDMismatch indicates the sealed key id doesn't match the payload key id (tampering detected).
	ErrKeyIDMismatch = errors.New("protectql: key id mismatch")

	// ErrKeyNotFound indicates the requested key id is not in the registry or provider.
	ErrKeyNotFound = errors.New("protectql: key not found")

	// ErrInvalidKeySize indicates the master key is not exactly 32 bytes.
	ErrInvalidKeySize = errors.New("protectql: key must be 32 bytes")

	// ErrNoKeys indicates no keys were provided to the engine.
	ErrNoKeys = errors.New("protectql: no keys provided")

	// ErrDefaultKeyNotFound indicates the specified default key id was not registered.
	ErrDefaultKeyNotFound = errors.New("protectql: default key not found")

	// ErrInvalidKeyID indicates the key id is invalid (empty or too long).
	ErrInvalidKeyID = errors.New("protectql: key id must be 1-255 bytes")

	// ErrInvalidFormat indicates a sealed payload is malformed.
	ErrInvalidFormat = errors.New("protectql: invalid payload format")

	// ErrDecompressionFailed indicates zstd decompression failed.
	ErrDecompressionFailed = errors.New("protectql: decompression failed")

	// ErrUnsupportedCompression indicates an unsupported compression algorithm.
	ErrUnsupportedCompression = errors.New("protectql: unsupported compression algorithm")

	// ErrEngineClosed indicates the engine was used after Close() was called.
	ErrEngineClosed = errors.New("protectql: engine is closed")

	// ErrUnsupportedIndex indicates the local engine cannot produce terms for the
	// requested index type (ore terms require the remote engine).
	ErrUnsupportedIndex = errors.New("protectql: index type not supported by local engine")

	// ErrWasNull indicates the payload represented a database NULL.
	ErrWasNull = errors.New("protectql: value was null")
)
