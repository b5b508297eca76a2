// Package roundstore implements the persistent state of the rounds of the key
// generator.
//
// A round is a set of records that share the prefix of the round id:
//
//	r/<round>/c/<contributor>  the contribution of a member
//	r/<round>/agg              the aggregated key
//	r/<round>/dec              the decryption key
//	r/<round>/empty            marker of a round aggregated without contribution
//	r/<round>/open             marker of a round started locally
//
// The round id is encoded in big-endian so that the records of a round are
// contiguous, and the contributions of a round are iterated in the order of
// the identities of the contributors.
package roundstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.dedis.ch/keygen/core/store/kv"
	"go.dedis.ch/keygen/crypto/tlp"
	"golang.org/x/xerrors"
)

var (
	bucketName = []byte("keygen-rounds")
	counterKey = []byte("counter")
)

const (
	contribTag = "c/"
	aggTag     = "agg"
	decTag     = "dec"
	emptyTag   = "empty"
	openTag    = "open"
)

// ErrNotFound is returned when a record of a round does not exist.
var ErrNotFound = xerrors.New("not found")

// ErrNoAggregatedKey is returned when storing a decryption key for a round
// that has no aggregated key.
var ErrNoAggregatedKey = xerrors.New("no aggregated key")

// PersistenceError is returned when the database fails.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the error of the database.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Contribution is the partial key of a contributor for a round, alongside its
// proof.
type Contribution struct {
	Contributor string
	Round       uint64
	PartialKey  tlp.PartialKey
	Proof       tlp.Proof
}

// RoundInfo is the summary of the state of a round.
type RoundInfo struct {
	Round         uint64
	Open          bool
	Empty         bool
	Contributors  []string
	AggregatedKey *tlp.AggregatedKey
	DecryptionKey *tlp.DecryptionKey
}

// Store is the persistent state of the rounds.
type Store struct {
	db kv.DB
}

// NewStore returns a store using the database.
func NewStore(db kv.DB) *Store {
	return &Store{db: db}
}

// NextRoundID assigns a new round id. The first round is zero, and the
// counter advances by exactly one per call, including across restarts.
func (s *Store) NextRoundID() (uint64, error) {
	var round uint64

	err := s.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return err
		}

		value := bucket.Get(counterKey)
		if len(value) == 8 {
			round = binary.BigEndian.Uint64(value)
		}

		next := make([]byte, 8)
		binary.BigEndian.PutUint64(next, round+1)

		return bucket.Set(counterKey, next)
	})
	if err != nil {
		return 0, &PersistenceError{Op: "next round", Err: err}
	}

	return round, nil
}

// CurrentRoundID returns the last assigned round id, or ErrNotFound if no
// round has been assigned yet.
func (s *Store) CurrentRoundID() (uint64, error) {
	var counter uint64

	err := s.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		value := bucket.Get(counterKey)
		if len(value) == 8 {
			counter = binary.BigEndian.Uint64(value)
		}

		return nil
	})
	if err != nil {
		return 0, &PersistenceError{Op: "current round", Err: err}
	}

	if counter == 0 {
		return 0, ErrNotFound
	}

	return counter - 1, nil
}

// OpenRound marks the round as started by the local node.
func (s *Store) OpenRound(round uint64) error {
	return s.setMarker("open round", round, openTag)
}

// MarkEmpty marks the round as aggregated without any contribution.
func (s *Store) MarkEmpty(round uint64) error {
	return s.setMarker("mark empty", round, emptyTag)
}

func (s *Store) setMarker(op string, round uint64, tag string) error {
	err := s.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return err
		}

		return bucket.Set(roundKey(round, tag), []byte{1})
	})
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}

	return nil
}

// PutContribution inserts or replaces the contribution of the contributor for
// the round. It returns false when the same contribution is already stored.
func (s *Store) PutContribution(c Contribution) (bool, error) {
	if c.Contributor == "" {
		return false, xerrors.New("missing contributor")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return false, xerrors.Errorf("failed to encode contribution: %v", err)
	}

	key := roundKey(c.Round, contribTag+c.Contributor)
	changed := false

	err = s.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return err
		}

		if bytes.Equal(bucket.Get(key), data) {
			return nil
		}

		changed = true

		return bucket.Set(key, data)
	})
	if err != nil {
		return false, &PersistenceError{Op: "put contribution", Err: err}
	}

	return changed, nil
}

// GetContribution returns the contribution of the contributor for the round.
func (s *Store) GetContribution(round uint64, contributor string) (Contribution, error) {
	var c Contribution

	err := s.read("get contribution", roundKey(round, contribTag+contributor), &c)
	if err != nil {
		return Contribution{}, err
	}

	return c, nil
}

// GetPartialKeySet returns the contributions of the round ordered by
// contributor. The set is empty if no contribution has been received.
func (s *Store) GetPartialKeySet(round uint64) ([]Contribution, error) {
	set := []Contribution{}

	err := s.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		return bucket.Scan(roundKey(round, contribTag), func(k, v []byte) error {
			var c Contribution

			err := json.Unmarshal(v, &c)
			if err != nil {
				return xerrors.Errorf("failed to decode %q: %v", k, err)
			}

			set = append(set, c)

			return nil
		})
	})
	if err != nil {
		return nil, &PersistenceError{Op: "get partial key set", Err: err}
	}

	return set, nil
}

// PutAggregatedKey stores the aggregated key of the round and clears the empty
// marker. A previous key is replaced, in which case the decryption key derived
// from it is removed in the same transaction.
func (s *Store) PutAggregatedKey(round uint64, key tlp.AggregatedKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return xerrors.Errorf("failed to encode aggregated key: %v", err)
	}

	err = s.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return err
		}

		aggKey := roundKey(round, aggTag)

		prev := bucket.Get(aggKey)
		if len(prev) > 0 && !bytes.Equal(prev, data) {
			err = bucket.Delete(roundKey(round, decTag))
			if err != nil {
				return err
			}
		}

		err = bucket.Delete(roundKey(round, emptyTag))
		if err != nil {
			return err
		}

		return bucket.Set(aggKey, data)
	})
	if err != nil {
		return &PersistenceError{Op: "put aggregated key", Err: err}
	}

	return nil
}

// GetAggregatedKey returns the aggregated key of the round.
func (s *Store) GetAggregatedKey(round uint64) (tlp.AggregatedKey, error) {
	var key tlp.AggregatedKey

	err := s.read("get aggregated key", roundKey(round, aggTag), &key)
	if err != nil {
		return tlp.AggregatedKey{}, err
	}

	return key, nil
}

// PutDecryptionKey stores the decryption key of the round. The aggregated key
// must have been stored before.
func (s *Store) PutDecryptionKey(round uint64, key tlp.DecryptionKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return xerrors.Errorf("failed to encode decryption key: %v", err)
	}

	err = s.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return err
		}

		if len(bucket.Get(roundKey(round, aggTag))) == 0 {
			return ErrNoAggregatedKey
		}

		return bucket.Set(roundKey(round, decTag), data)
	})
	if xerrors.Is(err, ErrNoAggregatedKey) {
		return xerrors.Errorf("round %d: %w", round, ErrNoAggregatedKey)
	}
	if err != nil {
		return &PersistenceError{Op: "put decryption key", Err: err}
	}

	return nil
}

// GetDecryptionKey returns the decryption key of the round.
func (s *Store) GetDecryptionKey(round uint64) (tlp.DecryptionKey, error) {
	var key tlp.DecryptionKey

	err := s.read("get decryption key", roundKey(round, decTag), &key)
	if err != nil {
		return tlp.DecryptionKey{}, err
	}

	return key, nil
}

// GetRoundInfo returns the summary of the round, or ErrNotFound if the round
// has no record at all.
func (s *Store) GetRoundInfo(round uint64) (RoundInfo, error) {
	info := RoundInfo{Round: round, Contributors: []string{}}
	found := false

	prefix := roundKey(round, "")

	err := s.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		return bucket.Scan(prefix, func(k, v []byte) error {
			found = true

			tag := string(k[len(prefix):])

			switch {
			case tag == openTag:
				info.Open = true
			case tag == emptyTag:
				info.Empty = true
			case tag == aggTag:
				key := &tlp.AggregatedKey{}
				info.AggregatedKey = key
				return json.Unmarshal(v, key)
			case tag == decTag:
				key := &tlp.DecryptionKey{}
				info.DecryptionKey = key
				return json.Unmarshal(v, key)
			case len(tag) > len(contribTag) && tag[:len(contribTag)] == contribTag:
				info.Contributors = append(info.Contributors, tag[len(contribTag):])
			}

			return nil
		})
	})
	if err != nil {
		return RoundInfo{}, &PersistenceError{Op: "get round info", Err: err}
	}

	if !found {
		return RoundInfo{}, xerrors.Errorf("round %d: %w", round, ErrNotFound)
	}

	return info, nil
}

func (s *Store) read(op string, key []byte, v interface{}) error {
	found := false

	err := s.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(key)
		if len(data) == 0 {
			return nil
		}

		found = true

		return json.Unmarshal(data, v)
	})
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}

	if !found {
		return xerrors.Errorf("%s: %w", op, ErrNotFound)
	}

	return nil
}

func roundKey(round uint64, tag string) []byte {
	key := make([]byte, 0, 11+len(tag))
	key = append(key, 'r', '/')
	key = binary.BigEndian.AppendUint64(key, round)
	key = append(key, '/')

	return append(key, tag...)
}
