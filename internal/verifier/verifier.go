// Package verifier checks that a reconciliation left the clean table holding
// exactly the snapshot's keys.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dbsmedya/pprload/internal/logger"
	"github.com/dbsmedya/pprload/internal/types"
)

// ErrVerificationFailed is returned when the persisted keys do not match the snapshot.
var ErrVerificationFailed = errors.New("verification failed")

// VerificationMethod defines how to verify data integrity.
type VerificationMethod string

const (
	// MethodCount compares key counts (fast)
	MethodCount VerificationMethod = "count"
	// MethodSHA256 compares a hash over the sorted key sets
	MethodSHA256 VerificationMethod = "sha256"
	// MethodSkip skips verification entirely
	MethodSkip VerificationMethod = "skip"
)

// KeySource reads the keys currently persisted.
type KeySource interface {
	QueryPersistedKeys(ctx context.Context) (types.KeySet, error)
}

// RecordSource reads the rows currently persisted.
type RecordSource interface {
	QueryPersistedRecords(ctx context.Context) ([]types.KeyedRecord, error)
}

// VerifyResult holds the outcome of one verification.
type VerifyResult struct {
	Method         VerificationMethod
	SnapshotCount  int64
	PersistedCount int64
	SnapshotHash   string
	PersistedHash  string
	Match          bool
}

// Verifier compares the persisted key set to the expected one.
type Verifier struct {
	source KeySource
	method VerificationMethod
	logger *logger.Logger
}

// NewVerifier creates a verifier. An empty method defaults to count.
func NewVerifier(source KeySource, method VerificationMethod, log *logger.Logger) (*Verifier, error) {
	if source == nil {
		return nil, fmt.Errorf("key source is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}

	switch method {
	case "":
		method = MethodCount
	case MethodCount, MethodSHA256, MethodSkip:
	default:
		return nil, fmt.Errorf("unknown verification method %q", method)
	}

	return &Verifier{source: source, method: method, logger: log}, nil
}

// Method returns the configured verification method.
func (v *Verifier) Method() VerificationMethod {
	return v.method
}

// Verify checks the persisted keys against expected.
func (v *Verifier) Verify(ctx context.Context, expected types.KeySet) (*VerifyResult, error) {
	if v.method == MethodSkip {
		v.logger.Info("Verification SKIPPED (method=skip)")
		return &VerifyResult{Method: MethodSkip, Match: true}, nil
	}

	persisted, err := v.source.QueryPersistedKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read persisted keys: %w", err)
	}

	result := &VerifyResult{
		Method:         v.method,
		SnapshotCount:  int64(expected.Len()),
		PersistedCount: int64(persisted.Len()),
	}

	switch v.method {
	case MethodCount:
		result.Match = result.SnapshotCount == result.PersistedCount
	case MethodSHA256:
		result.SnapshotHash = HashKeys(expected)
		result.PersistedHash = HashKeys(persisted)
		result.Match = result.SnapshotHash == result.PersistedHash
	}

	if !result.Match {
		v.logger.Errorw("Verification mismatch",
			"method", v.method,
			"snapshot_count", result.SnapshotCount,
			"persisted_count", result.PersistedCount,
			"snapshot_hash", result.SnapshotHash,
			"persisted_hash", result.PersistedHash,
		)
		return result, fmt.Errorf("%w: %s", ErrVerificationFailed, describeMismatch(result))
	}

	v.logger.Infof("Verification passed (method=%s, keys=%d)", v.method, result.PersistedCount)
	return result, nil
}

func describeMismatch(r *VerifyResult) string {
	if r.Method == MethodSHA256 && r.SnapshotCount == r.PersistedCount {
		return fmt.Sprintf("key hash differs (snapshot=%s, persisted=%s)", r.SnapshotHash, r.PersistedHash)
	}
	return fmt.Sprintf("snapshot has %d keys, clean table has %d", r.SnapshotCount, r.PersistedCount)
}

// HashKeys returns the hex SHA256 of the sorted keys, each followed by a newline.
func HashKeys(keys types.KeySet) string {
	h := sha256.New()
	for _, k := range keys.Sorted() {
		h.Write([]byte(k))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// KeyDrift describes a persisted row whose stored key no longer matches the
// key derived from its stored fields.
type KeyDrift struct {
	Stored  types.NaturalKey
	Derived types.NaturalKey
}

// CheckKeyIntegrity re-derives the key of every persisted row and reports
// rows whose stored key drifted. Disambiguation suffixes are ignored.
func CheckKeyIntegrity(ctx context.Context, source RecordSource) ([]KeyDrift, error) {
	records, err := source.QueryPersistedRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read persisted records: %w", err)
	}

	var drift []KeyDrift
	for _, kr := range records {
		derived := types.DeriveKey(kr.Record)
		if kr.Key.Base() != derived {
			drift = append(drift, KeyDrift{Stored: kr.Key, Derived: derived})
		}
	}
	return drift, nil
}
