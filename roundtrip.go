package rkv

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rkv/utils/log"
)

// Store is what a round trip needs from a connection.
type Store interface {
	Set(ctx context.Context, key string, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

var _ Store = (*KvsClient)(nil)

// Result lists the keys that were verified and the keys that were
// skipped because their kind has no string encoding.
type Result struct {
	Checked []string
	Skipped []string
}

// RoundTripTester writes each scalar fixture entry to a store, reads it
// back and requires the decoded value to equal the original.
type RoundTripTester struct {
	Options ClientOptions
	Fixture Fixture
}

// NewRoundTripTester uses DefaultFixture.
func NewRoundTripTester(opts ClientOptions) *RoundTripTester {
	return &RoundTripTester{Options: opts, Fixture: DefaultFixture()}
}

// Run connects, verifies the fixture and closes the connection on every
// path out. Keys written are left in the store.
func (t *RoundTripTester) Run(ctx context.Context) (res Result, err error) {
	client, err := Connect(ctx, t.Options)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			log.Warnf("close connection to [%s], %v", t.Options.Addr, cerr)
		}
	}()
	return Verify(ctx, client, t.Fixture)
}

// Verify checks fixture against store in order and stops at the first
// failure. A mismatch, including a payload that does not parse as the
// expected kind, is a *MismatchError. A failed request or a missing key
// wraps ErrStoreOperation.
func Verify(ctx context.Context, store Store, fixture Fixture) (Result, error) {
	var res Result
	for _, e := range fixture {
		if !e.Value.Scalar() {
			log.Warn("skipping entry without string encoding",
				zap.String("key", e.Key), zap.Stringer("kind", e.Value.Kind()))
			res.Skipped = append(res.Skipped, e.Key)
			continue
		}
		if err := roundTrip(ctx, store, e); err != nil {
			return res, err
		}
		res.Checked = append(res.Checked, e.Key)
	}
	return res, nil
}

func roundTrip(ctx context.Context, store Store, e Entry) error {
	encoded, err := e.Value.Encode()
	if err != nil {
		return err
	}
	if err := store.Set(ctx, e.Key, encoded); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrStoreOperation, e.Key, err)
	}

	payload, found, err := store.Get(ctx, e.Key)
	if err != nil {
		return fmt.Errorf("%w: get %s: %w", ErrStoreOperation, e.Key, err)
	}
	if !found {
		return fmt.Errorf("%w: get %s: key not found", ErrStoreOperation, e.Key)
	}

	got, err := Decode(e.Value.Kind(), payload)
	if err != nil || !got.Equal(e.Value) {
		return &MismatchError{Key: e.Key, Expected: encoded, Actual: payload}
	}
	log.Debug("round trip ok", zap.String("key", e.Key), zap.Stringer("kind", e.Value.Kind()))
	return nil
}
