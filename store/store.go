package store

import (
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/aedpos-network/aedpos/consensus"
	"github.com/aedpos-network/aedpos/lib"
)

/*
	The Store persists committed consensus rounds in a single BadgerDB instance. It is
	deliberately small: round snapshots keyed by big-endian round number (so iteration walks
	rounds in order), plus three singleton records for the current round pointer, the chain
	start time, and nothing else. Every CommitRound is a single atomic transaction, so the
	round snapshot and the current pointer can never disagree.
*/

var (
	roundPrefix   = []byte("r/") // prefix designated for round snapshots keyed by round number
	currentKey    = []byte("n/") // singleton holding the committed round number
	chainStartKey = []byte("g/") // singleton holding the blockchain start time in unix ms

	_ consensus.RoundStore = &Store{} // enforce the RoundStore interface
)

// Store is a BadgerDB backed implementation of the consensus round store
type Store struct {
	db     *badger.DB
	config lib.StoreConfig
	log    lib.LoggerI
}

// New() creates a Store either in memory or backed by a disk DB under the data directory
func New(config lib.Config, log lib.LoggerI) (*Store, lib.ErrorI) {
	opts := badger.DefaultOptions(filepath.Join(config.DataDirPath, config.DBName)).
		WithInMemory(config.StoreConfig.InMemory).
		WithValueLogFileSize(config.ValueLogFileSize).
		WithLogger(nil)
	if config.StoreConfig.InMemory {
		opts.Dir, opts.ValueDir = "", ""
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, lib.ErrOpenDB(err)
	}
	return &Store{db: db, config: config.StoreConfig, log: log}, nil
}

// GetRound() returns a retained historical round by number
func (s *Store) GetRound(roundNumber uint64) (round *consensus.Round, err lib.ErrorI) {
	bz, err := s.get(roundKey(roundNumber))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, lib.ErrRoundNotFound(roundNumber)
	}
	round = new(consensus.Round)
	if err = lib.UnmarshalJSON(bz, round); err != nil {
		return nil, err
	}
	return round, nil
}

// GetCurrentRound() returns the committed round the singleton pointer designates
func (s *Store) GetCurrentRound() (*consensus.Round, lib.ErrorI) {
	number, err := s.getUint64(currentKey)
	if err != nil {
		return nil, err
	}
	if number == 0 {
		return nil, lib.ErrRoundNotFound(0)
	}
	return s.GetRound(number)
}

// GetPreviousRound() returns the round before the committed one
func (s *Store) GetPreviousRound() (*consensus.Round, lib.ErrorI) {
	number, err := s.getUint64(currentKey)
	if err != nil {
		return nil, err
	}
	if number <= 1 {
		return nil, lib.ErrRoundNotFound(0)
	}
	return s.GetRound(number - 1)
}

// CommitRound() atomically writes the round snapshot and advances the current pointer
func (s *Store) CommitRound(round *consensus.Round) lib.ErrorI {
	bz, err := lib.MarshalJSON(round)
	if err != nil {
		return err
	}
	if e := s.db.Update(func(txn *badger.Txn) error {
		if er := txn.Set(roundKey(round.RoundNumber), bz); er != nil {
			return er
		}
		return txn.Set(currentKey, lib.Uint64ToBytes(round.RoundNumber))
	}); e != nil {
		return lib.ErrCommitDB(e)
	}
	return nil
}

// PruneBefore() deletes retained rounds below the floor; round 1 is always kept as the
// genesis reference
func (s *Store) PruneBefore(roundNumber uint64) lib.ErrorI {
	// collect first so deletion never races the iterator's snapshot
	var stale [][]byte
	if e := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = roundPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			n := lib.BytesToUint64(key[len(roundPrefix):])
			if n > 1 && n < roundNumber {
				stale = append(stale, key)
			}
		}
		return nil
	}); e != nil {
		return lib.ErrStoreIter(e)
	}
	if e := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range stale {
			if er := txn.Delete(key); er != nil {
				return er
			}
		}
		return nil
	}); e != nil {
		return lib.ErrStoreDelete(e)
	}
	return nil
}

// ChainStartTime() returns the recorded blockchain start in unix ms
func (s *Store) ChainStartTime() (uint64, lib.ErrorI) {
	return s.getUint64(chainStartKey)
}

// SetChainStartTime() records the blockchain start; written once at genesis
func (s *Store) SetChainStartTime(startTime uint64) lib.ErrorI {
	if e := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chainStartKey, lib.Uint64ToBytes(startTime))
	}); e != nil {
		return lib.ErrStoreSet(e)
	}
	return nil
}

// Close() releases the underlying database
func (s *Store) Close() lib.ErrorI {
	if e := s.db.Close(); e != nil {
		return lib.ErrCloseDB(e)
	}
	return nil
}

// get() reads a raw value; a missing key returns nil without an error
func (s *Store) get(key []byte) (bz []byte, err lib.ErrorI) {
	if e := s.db.View(func(txn *badger.Txn) error {
		item, er := txn.Get(key)
		if er == badger.ErrKeyNotFound {
			return nil
		}
		if er != nil {
			return er
		}
		bz, er = item.ValueCopy(nil)
		return er
	}); e != nil {
		return nil, lib.ErrStoreGet(e)
	}
	return bz, nil
}

// getUint64() reads a big-endian uint64 singleton; a missing key reads as zero
func (s *Store) getUint64(key []byte) (uint64, lib.ErrorI) {
	bz, err := s.get(key)
	if err != nil {
		return 0, err
	}
	if bz == nil {
		return 0, nil
	}
	return lib.BytesToUint64(bz), nil
}

// roundKey() builds the big-endian round snapshot key so iteration walks rounds in order
func roundKey(roundNumber uint64) []byte {
	return append(append([]byte{}, roundPrefix...), lib.Uint64ToBytes(roundNumber)...)
}
