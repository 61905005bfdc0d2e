package p2p

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/Klingon-tech/klingnet-chain/pkg/popow"
)

const (
	// PoPoWProtocol is the stream protocol ID for exchanging NiPoPoW proofs.
	PoPoWProtocol = protocol.ID("/klingnet/popow/1.0.0")

	// popowReadTimeout is the max time to read a proof over the wire.
	popowReadTimeout = 10 * time.Second

	// maxPoPoWProofBytes bounds a single proof transfer to guard against
	// a misbehaving or malicious peer sending an unbounded stream.
	maxPoPoWProofBytes = 4 << 20
)

// SubChainPoPoWProtocol returns the stream protocol ID for a sub-chain's
// NiPoPoW proof exchange.
func SubChainPoPoWProtocol(chainIDHex string) protocol.ID {
	return protocol.ID(fmt.Sprintf("/klingnet/sc/%s/popow/1.0.0", chainIDHex))
}

// RegisterPoPoWHandler registers a stream handler that serves the caller's
// current best proof for a chain to any peer that opens a stream.
func (s *Syncer) RegisterPoPoWHandler(bestFn func() *popow.Proof) {
	s.host.SetStreamHandler(PoPoWProtocol, func(stream network.Stream) {
		defer stream.Close()
		s.servePoPoW(stream, bestFn)
	})
}

// RegisterSubChainPoPoWHandler registers a proof handler for a sub-chain.
func (s *Syncer) RegisterSubChainPoPoWHandler(chainIDHex string, bestFn func() *popow.Proof) {
	s.host.SetStreamHandler(SubChainPoPoWProtocol(chainIDHex), func(stream network.Stream) {
		defer stream.Close()
		s.servePoPoW(stream, bestFn)
	})
}

func (s *Syncer) servePoPoW(stream network.Stream, bestFn func() *popow.Proof) {
	best := bestFn()
	if best == nil {
		return
	}
	if _, err := stream.Write(popow.Encode(best)); err != nil {
		return
	}
}

// RequestPoPoW queries a peer for its best NiPoPoW proof for the main chain.
func (s *Syncer) RequestPoPoW(ctx context.Context, peerID peer.ID) (*popow.Proof, error) {
	return s.requestPoPoW(ctx, peerID, PoPoWProtocol)
}

// RequestSubChainPoPoW queries a peer for its best NiPoPoW proof for a sub-chain.
func (s *Syncer) RequestSubChainPoPoW(ctx context.Context, peerID peer.ID, chainIDHex string) (*popow.Proof, error) {
	return s.requestPoPoW(ctx, peerID, SubChainPoPoWProtocol(chainIDHex))
}

func (s *Syncer) requestPoPoW(ctx context.Context, peerID peer.ID, proto protocol.ID) (*popow.Proof, error) {
	stream, err := s.host.NewStream(ctx, peerID, proto)
	if err != nil {
		return nil, fmt.Errorf("open popow stream: %w", err)
	}
	defer stream.Close()

	stream.CloseWrite()
	_ = stream.SetReadDeadline(time.Now().Add(popowReadTimeout))

	data, err := io.ReadAll(io.LimitReader(stream, maxPoPoWProofBytes))
	if err != nil {
		return nil, fmt.Errorf("read popow proof: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("peer has no popow proof")
	}

	proof, err := popow.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode popow proof: %w", err)
	}
	return proof, nil
}
