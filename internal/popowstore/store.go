// Package popowstore persists the best known NiPoPoW proof per chain ID.
package popowstore

import (
	"fmt"
	"sync"

	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/popow"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

var prefixProof = []byte("p/") // p/<chainID(32)> -> encoded proof

// Store tracks the best NiPoPoW proof observed for each chain ID, backed by
// a storage.DB. Updates are serialized so concurrent peers submitting
// proofs for the same chain never race on the read-compare-write.
type Store struct {
	mu sync.Mutex
	db storage.DB
}

// New creates a proof store backed by the given database.
func New(db storage.DB) *Store {
	return &Store{db: db}
}

// Best returns the current best proof for chainID, or (nil, false) if none
// has been stored yet.
func (s *Store) Best(chainID types.Hash) (*popow.Proof, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(chainID)
}

func (s *Store) get(chainID types.Hash) (*popow.Proof, bool, error) {
	data, err := s.db.Get(proofKey(chainID))
	if err != nil {
		return nil, false, nil
	}
	p, err := popow.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode stored proof for chain %s: %w", chainID, err)
	}
	return p, true, nil
}

// Offer submits a candidate proof for chainID. The candidate is validated
// structurally before anything else runs; a malformed proof is rejected
// outright regardless of how it scores. It replaces the stored best proof
// only if it is also strictly better than the incumbent (or no incumbent
// exists). Returns true if the candidate was accepted.
func (s *Store) Offer(chainID types.Hash, candidate *popow.Proof) (bool, error) {
	if err := candidate.Validate(); err != nil {
		klog.PoPoW.Warn().Err(err).Str("chain_id", chainID.String()).Msg("rejected invalid popow proof")
		return false, fmt.Errorf("invalid proof for chain %s: %w", chainID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	incumbent, ok, err := s.get(chainID)
	if err != nil {
		return false, err
	}
	if ok && !candidate.IsBetterThan(incumbent) {
		klog.PoPoW.Debug().Str("chain_id", chainID.String()).Msg("rejected weaker popow proof")
		return false, nil
	}

	if err := s.db.Put(proofKey(chainID), popow.Encode(candidate)); err != nil {
		return false, fmt.Errorf("put proof for chain %s: %w", chainID, err)
	}
	klog.PoPoW.Info().Str("chain_id", chainID.String()).Int("prefix_len", len(candidate.Prefix)).Msg("accepted new best popow proof")
	return true, nil
}

func proofKey(chainID types.Hash) []byte {
	key := make([]byte, len(prefixProof)+types.HashSize)
	copy(key, prefixProof)
	copy(key[len(prefixProof):], chainID[:])
	return key
}
