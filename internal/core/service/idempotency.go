package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-rush/internal/port"
)

const claimKeyPrefix = "lock:idempotency:"

type AdmissionKind int

const (
	AdmissionFresh AdmissionKind = iota
	AdmissionDuplicate
	AdmissionInFlight
)

// Admission is the decision for one fingerprint. A fresh admission holds the
// in-flight claim until Commit or Abandon.
type Admission struct {
	Kind        AdmissionKind
	Fingerprint string
	Payload     []byte // cached response, set for AdmissionDuplicate

	claimToken string
}

type IdempotencyCache struct {
	results   port.IdempotencyStore
	locks     port.LockManager
	claimTTL  time.Duration
	resultTTL time.Duration
	log       zerolog.Logger
}

func NewIdempotencyCache(results port.IdempotencyStore, locks port.LockManager, claimTTL, resultTTL time.Duration, log zerolog.Logger) *IdempotencyCache {
	return &IdempotencyCache{
		results:   results,
		locks:     locks,
		claimTTL:  claimTTL,
		resultTTL: resultTTL,
		log:       log.With().Str("component", "idempotency").Logger(),
	}
}

// ValidFingerprint accepts canonical RFC 4122 UUIDs of versions 1 through 5.
func ValidFingerprint(fingerprint string) bool {
	if len(fingerprint) != 36 {
		return false
	}
	id, err := uuid.Parse(fingerprint)
	if err != nil {
		return false
	}
	return id.Variant() == uuid.RFC4122 && id.Version() >= 1 && id.Version() <= 5
}

func (c *IdempotencyCache) Admit(ctx context.Context, fingerprint string) (Admission, error) {
	if !ValidFingerprint(fingerprint) {
		return Admission{}, ErrInvalidFingerprint
	}

	payload, found, err := c.results.GetResult(ctx, fingerprint)
	if err != nil {
		return Admission{}, errors.Wrap(err, "lookup idempotency result")
	}
	if found {
		c.log.Info().Str("fingerprint", fingerprint).Msg("duplicate request replayed")
		return Admission{Kind: AdmissionDuplicate, Fingerprint: fingerprint, Payload: payload}, nil
	}

	token, ok, err := c.locks.AcquireLock(ctx, claimKeyPrefix+fingerprint, c.claimTTL)
	if err != nil {
		return Admission{}, errors.Wrap(err, "claim fingerprint")
	}
	if !ok {
		return Admission{Kind: AdmissionInFlight, Fingerprint: fingerprint}, nil
	}
	adm := Admission{Kind: AdmissionFresh, Fingerprint: fingerprint, claimToken: token}

	// The previous holder may have committed between the lookup and the claim.
	payload, found, err = c.results.GetResult(ctx, fingerprint)
	if err != nil {
		c.release(ctx, adm)
		return Admission{}, errors.Wrap(err, "lookup idempotency result")
	}
	if found {
		c.release(ctx, adm)
		return Admission{Kind: AdmissionDuplicate, Fingerprint: fingerprint, Payload: payload}, nil
	}

	return adm, nil
}

// Commit stores the terminal response of a fresh admission and releases its claim.
func (c *IdempotencyCache) Commit(ctx context.Context, adm Admission, payload []byte) error {
	if adm.Kind != AdmissionFresh {
		return errors.New("commit requires a fresh admission")
	}

	if err := c.results.SaveResult(ctx, adm.Fingerprint, payload, c.resultTTL); err != nil {
		return errors.Wrap(err, "save idempotency result")
	}

	c.release(ctx, adm)
	return nil
}

// Abandon releases the claim without caching anything, so the client may retry.
func (c *IdempotencyCache) Abandon(ctx context.Context, adm Admission) {
	if adm.Kind == AdmissionFresh {
		c.release(ctx, adm)
	}
}

func (c *IdempotencyCache) release(ctx context.Context, adm Admission) {
	released, err := c.locks.ReleaseLock(context.WithoutCancel(ctx), claimKeyPrefix+adm.Fingerprint, adm.claimToken)
	if err != nil {
		c.log.Warn().Err(err).Str("fingerprint", adm.Fingerprint).Msg("release idempotency claim")
		return
	}
	if !released {
		c.log.Warn().Str("fingerprint", adm.Fingerprint).Msg("idempotency claim expired before release")
	}
}
