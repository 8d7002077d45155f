// Package domain — idempotency primitives.
//
// The publish command is deduplicated through a caller-supplied idempotency
// key. Validation happens here, before any persistence interaction, so a
// malformed key never reaches the database. The persisted counterpart is the
// IdempotencySaga row, keyed (user_id, idempotency_key), whose unique primary
// key is the mutual-exclusion mechanism for concurrent retries.
package domain

import (
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"gorm.io/datatypes"
)

// MaxIdempotencyKeyLen caps accepted key length. Keys are stored as part of a
// natural primary key, so the bound is deliberately tight.
const MaxIdempotencyKeyLen = 50

// ErrInvalidIdempotencyKey is returned by ParseIdempotencyKey when the raw
// value is empty, too long, or contains characters outside the allowlist.
var ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

// idemKeyRE restricts keys to an RFC-7230-ish token alphabet that is safe to
// store as a natural key: alphanumerics plus . _ ~ - :
var idemKeyRE = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyKey is a validated, immutable deduplication token. The zero value
// is invalid; construct one via ParseIdempotencyKey.
type IdempotencyKey struct {
	value string
}

// ParseIdempotencyKey validates raw and wraps it into an IdempotencyKey.
// It is a pure value constructor with no side effects.
func ParseIdempotencyKey(raw string) (IdempotencyKey, error) {
	if raw == "" || len(raw) > MaxIdempotencyKeyLen || !idemKeyRE.MatchString(raw) {
		return IdempotencyKey{}, ErrInvalidIdempotencyKey
	}
	return IdempotencyKey{value: raw}, nil
}

// String returns the raw token.
func (k IdempotencyKey) String() string { return k.value }

// HeaderPair is one recorded response header. Order is preserved so replays
// are byte-identical to the first execution.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StoredResponse is the materialized HTTP response persisted alongside a
// completed saga and returned verbatim on every replay.
type StoredResponse struct {
	Status  int
	Headers []HeaderPair
	Body    []byte
}

// IdempotencySaga is the persisted record of one logical publish command.
//
// Lifecycle: the row is created as a placeholder (all response columns NULL)
// the moment a subject first submits a key — the insert doubles as the claim
// for exclusive execution rights. It is mutated exactly once, to fill in the
// response, inside the same transaction that performed the domain write. Rows
// are never deleted by the application; retention is an operational concern.
type IdempotencySaga struct {
	UserID          string         `json:"user_id"          gorm:"type:varchar(64);primaryKey"`
	IdempotencyKey  string         `json:"idempotency_key"  gorm:"type:varchar(50);primaryKey"`
	ResponseStatus  *int           `json:"response_status"`
	ResponseHeaders datatypes.JSON `json:"response_headers"`
	ResponseBody    []byte         `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
}

// TableName returns the database table name for IdempotencySaga.
func (IdempotencySaga) TableName() string { return "idempotency" }

// Completed reports whether the saga has a recorded response, i.e. the
// original execution committed.
func (s *IdempotencySaga) Completed() bool { return s.ResponseStatus != nil }

// Response materializes the stored response. It returns (nil, nil) for a
// placeholder row and an error only when the stored header JSON is corrupt.
func (s *IdempotencySaga) Response() (*StoredResponse, error) {
	if !s.Completed() {
		return nil, nil
	}
	var headers []HeaderPair
	if len(s.ResponseHeaders) > 0 {
		if err := json.Unmarshal(s.ResponseHeaders, &headers); err != nil {
			return nil, err
		}
	}
	return &StoredResponse{
		Status:  *s.ResponseStatus,
		Headers: headers,
		Body:    s.ResponseBody,
	}, nil
}

// EncodeHeaders serializes an ordered header list for storage.
func EncodeHeaders(headers []HeaderPair) (datatypes.JSON, error) {
	raw, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
