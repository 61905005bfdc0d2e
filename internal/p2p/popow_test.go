package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-chain/pkg/popow"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// fixtureProof builds a trivially-valid two-header proof (genesis + one
// anchored tip) for round-trip tests that only care about wire shape.
func fixtureProof() *popow.Proof {
	g := popow.NewHeader(types.Hash{}, 0, 0, nil, nil, true)
	tip := popow.NewHeader(g.ID(), 1, 0, popow.RequiredTarget(0), []types.Hash{g.ID()}, false)
	return popow.New(1, 0, []popow.Header{g, tip}, nil)
}

func TestPoPoWRequest_RoundTrip(t *testing.T) {
	h1, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("create host1: %v", err)
	}
	defer h1.Close()

	h2, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("create host2: %v", err)
	}
	defer h2.Close()

	want := fixtureProof()

	node1 := &Node{host: h1}
	syncer1 := NewSyncer(node1)
	syncer1.RegisterPoPoWHandler(func() *popow.Proof {
		return want
	})

	h2.Peerstore().AddAddrs(h1.ID(), h1.Addrs(), time.Hour)
	if err := h2.Connect(context.Background(), peer.AddrInfo{ID: h1.ID(), Addrs: h1.Addrs()}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	node2 := &Node{host: h2}
	syncer2 := NewSyncer(node2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := syncer2.RequestPoPoW(ctx, h1.ID())
	if err != nil {
		t.Fatalf("RequestPoPoW: %v", err)
	}

	if got.M != want.M || got.K != want.K {
		t.Fatalf("proof params = (M=%d,K=%d), want (M=%d,K=%d)", got.M, got.K, want.M, want.K)
	}
	if len(got.Prefix) != len(want.Prefix) {
		t.Fatalf("prefix length = %d, want %d", len(got.Prefix), len(want.Prefix))
	}
	for i := range want.Prefix {
		if got.Prefix[i].ID() != want.Prefix[i].ID() {
			t.Fatalf("prefix[%d] id mismatch", i)
		}
	}
}

func TestPoPoWRequest_NoProofAvailable(t *testing.T) {
	h1, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("create host1: %v", err)
	}
	defer h1.Close()

	h2, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("create host2: %v", err)
	}
	defer h2.Close()

	node1 := &Node{host: h1}
	syncer1 := NewSyncer(node1)
	syncer1.RegisterPoPoWHandler(func() *popow.Proof {
		return nil
	})

	h2.Peerstore().AddAddrs(h1.ID(), h1.Addrs(), time.Hour)
	if err := h2.Connect(context.Background(), peer.AddrInfo{ID: h1.ID(), Addrs: h1.Addrs()}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	node2 := &Node{host: h2}
	syncer2 := NewSyncer(node2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := syncer2.RequestPoPoW(ctx, h1.ID()); err == nil {
		t.Fatal("expected error when peer has no proof")
	}
}

func TestSubChainPoPoWRequest_RoundTrip(t *testing.T) {
	h1, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("create host1: %v", err)
	}
	defer h1.Close()

	h2, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("create host2: %v", err)
	}
	defer h2.Close()

	want := fixtureProof()
	const chainIDHex = "deadbeef"

	node1 := &Node{host: h1}
	syncer1 := NewSyncer(node1)
	syncer1.RegisterSubChainPoPoWHandler(chainIDHex, func() *popow.Proof {
		return want
	})

	h2.Peerstore().AddAddrs(h1.ID(), h1.Addrs(), time.Hour)
	if err := h2.Connect(context.Background(), peer.AddrInfo{ID: h1.ID(), Addrs: h1.Addrs()}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	node2 := &Node{host: h2}
	syncer2 := NewSyncer(node2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := syncer2.RequestSubChainPoPoW(ctx, h1.ID(), chainIDHex)
	if err != nil {
		t.Fatalf("RequestSubChainPoPoW: %v", err)
	}
	if len(got.Prefix) != len(want.Prefix) {
		t.Fatalf("prefix length = %d, want %d", len(got.Prefix), len(want.Prefix))
	}
}
