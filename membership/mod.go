// Package membership implements the registry of the key generators of the
// cluster.
//
// The list of members is persisted as a single record so that every read is a
// consistent snapshot. The list is supplied by the operators, either as the
// seed of the configuration or through the daemon actions.
package membership

import (
	"encoding/json"
	"sort"
	"sync"

	"go.dedis.ch/keygen/core/store/kv"
	"go.dedis.ch/keygen/mino"
	"golang.org/x/xerrors"
)

var (
	bucketName = []byte("keygen-membership")
	listKey    = []byte("membership-list")
)

// ErrUnknownMember is returned when removing a contributor that is not part
// of the list.
var ErrUnknownMember = xerrors.New("unknown member")

// Entry is a member of the cluster.
type Entry struct {
	// Contributor is the identity of the member, which is stable for the
	// lifetime of the node.
	Contributor string `yaml:"identity"`
	// Endpoint is the text form of the overlay address of the member.
	Endpoint string `yaml:"endpoint"`
}

// Registry is the persistent list of the members.
type Registry struct {
	sync.Mutex

	db kv.DB
}

// NewRegistry returns a registry using the database.
func NewRegistry(db kv.DB) *Registry {
	return &Registry{
		db: db,
	}
}

// GetAll returns a snapshot of the members ordered by contributor.
func (r *Registry) GetAll() ([]Entry, error) {
	var entries []Entry

	err := r.db.View(func(tx kv.ReadableTx) error {
		var err error
		entries, err = readList(tx.GetBucket(bucketName))
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("while reading db: %v", err)
	}

	return entries, nil
}

// Add inserts the entry, or updates the endpoint of an existing contributor.
func (r *Registry) Add(entry Entry) error {
	return r.Seed(entry)
}

// Seed inserts or updates the entries in a single write.
func (r *Registry) Seed(entries ...Entry) error {
	for _, entry := range entries {
		err := entry.validate()
		if err != nil {
			return xerrors.Errorf("invalid entry: %v", err)
		}
	}

	return r.update(func(list []Entry) ([]Entry, error) {
		for _, entry := range entries {
			list = upsert(list, entry)
		}

		return list, nil
	})
}

// Remove removes the contributor from the list.
func (r *Registry) Remove(contributor string) error {
	return r.update(func(list []Entry) ([]Entry, error) {
		for i, entry := range list {
			if entry.Contributor == contributor {
				return append(list[:i], list[i+1:]...), nil
			}
		}

		return nil, xerrors.Errorf("%s: %w", contributor, ErrUnknownMember)
	})
}

func (r *Registry) update(fn func([]Entry) ([]Entry, error)) error {
	r.Lock()
	defer r.Unlock()

	err := r.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return xerrors.Errorf("while getting bucket: %v", err)
		}

		list, err := readList(bucket)
		if err != nil {
			return err
		}

		list, err = fn(list)
		if err != nil {
			return err
		}

		sort.Slice(list, func(i, j int) bool {
			return list[i].Contributor < list[j].Contributor
		})

		data, err := json.Marshal(list)
		if err != nil {
			return xerrors.Errorf("failed to encode list: %v", err)
		}

		err = bucket.Set(listKey, data)
		if err != nil {
			return xerrors.Errorf("while writing: %v", err)
		}

		return nil
	})
	if err != nil {
		return xerrors.Errorf("while updating db: %w", err)
	}

	return nil
}

// Players returns the addresses of the entries, except the one of the skipped
// contributor.
func Players(fac mino.AddressFactory, entries []Entry, skip string) mino.Players {
	addrs := make([]mino.Address, 0, len(entries))

	for _, entry := range entries {
		if entry.Contributor == skip {
			continue
		}

		addrs = append(addrs, fac.FromText([]byte(entry.Endpoint)))
	}

	return mino.NewAddresses(addrs...)
}

func (e Entry) validate() error {
	if e.Contributor == "" {
		return xerrors.New("missing contributor")
	}

	if e.Endpoint == "" {
		return xerrors.Errorf("missing endpoint for %s", e.Contributor)
	}

	return nil
}

func readList(bucket kv.Bucket) ([]Entry, error) {
	if bucket == nil {
		return []Entry{}, nil
	}

	data := bucket.Get(listKey)
	if len(data) == 0 {
		return []Entry{}, nil
	}

	var list []Entry

	err := json.Unmarshal(data, &list)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode list: %v", err)
	}

	return list, nil
}

func upsert(list []Entry, entry Entry) []Entry {
	for i, e := range list {
		if e.Contributor == entry.Contributor {
			list[i] = entry
			return list
		}
	}

	return append(list, entry)
}
