package exchange

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/exch/lib/chain"
	"github.com/tarancss/exch/lib/keyring"
)

// fakeChain is a chain.Client double recording the instructions handed to it.
type fakeChain struct {
	mu         sync.Mutex
	nonces     map[keyring.Address]uint64
	submitted  []chain.SignedTransfer
	nonceCalls int

	nonceDelay time.Duration // applied inside Nonce, i.e. under the caller's entry lock
	buildErr   error
	submitErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{nonces: map[keyring.Address]uint64{}}
}

func (f *fakeChain) Close() {}

func (f *fakeChain) Balance(ctx context.Context, account keyring.Address) (*uint256.Int, error) {
	return uint256.NewInt(0), nil
}

func (f *fakeChain) Nonce(ctx context.Context, account keyring.Address) (uint64, error) {
	time.Sleep(f.nonceDelay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++

	return f.nonces[account], nil
}

func (f *fakeChain) BuildTransfer(signer *keyring.Signer, from, to keyring.Address, amount *uint256.Int,
	nonce uint64) (*chain.SignedTransfer, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}

	return &chain.SignedTransfer{From: from, To: to, Amount: amount, Nonce: nonce}, nil
}

func (f *fakeChain) Submit(ctx context.Context, t *chain.SignedTransfer) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, *t)

	return fmt.Sprintf("hash-%s-%d", t.From, t.Nonce), nil
}

func (f *fakeChain) TransferStatus(ctx context.Context, hash string) (*chain.TransferInfo, error) {
	return &chain.TransferInfo{Hash: hash, Status: chain.StatusPending}, nil
}

func (f *fakeChain) submittedNonces() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]uint64, 0, len(f.submitted))
	for _, t := range f.submitted {
		out = append(out, t.Nonce)
	}

	return out
}

func testExchange(t *testing.T, f *fakeChain) (*Exchange, *keyring.Keyring) {
	t.Helper()

	seed, err := hex.DecodeString("642ce4e20f09c9f4d285c2b336063eaafbe4cb06dece8134f3a64bdd8f8c0c24")
	require.NoError(t, err)

	kr, err := keyring.New(42, seed)
	require.NoError(t, err)

	return New("", nil, nil, f, kr), kr
}

func signerOf(t *testing.T, kr *keyring.Keyring, secret string) *keyring.Signer {
	t.Helper()

	s, err := kr.DecodeSecret(secret)
	require.NoError(t, err)

	return s
}

func TestSubmitStartingNonce(t *testing.T) {
	f := newFakeChain()
	e, kr := testExchange(t, f)

	alice := signerOf(t, kr, "//Alice")
	aliceAddr := kr.AddressOf(alice)
	f.nonces[aliceAddr] = 5

	dest := kr.AddressOf(signerOf(t, kr, "//Bob"))

	hash, err := e.submitTransfer(context.Background(), alice, dest, uint256.NewInt(10))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	// the instruction carries the chain's nonce and the cache holds the next one
	require.Len(t, f.submitted, 1)
	assert.Equal(t, uint64(5), f.submitted[0].Nonce)

	en := e.nonces.entry(aliceAddr)
	assert.True(t, en.known)
	assert.Equal(t, uint64(6), en.next)
}

func TestSubmitConcurrentSameIdentity(t *testing.T) {
	f := newFakeChain()
	e, kr := testExchange(t, f)

	alice := signerOf(t, kr, "//Alice")
	f.nonces[kr.AddressOf(alice)] = 5

	dest := kr.AddressOf(signerOf(t, kr, "//Bob"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := e.submitTransfer(context.Background(), alice, dest, uint256.NewInt(10))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got := f.submittedNonces()
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []uint64{5, 6}, got)

	// the chain was consulted once; the second submission used the cached value
	assert.Equal(t, 1, f.nonceCalls)
}

func TestSubmitManyConcurrentSameIdentity(t *testing.T) {
	const workers = 20

	f := newFakeChain()
	e, kr := testExchange(t, f)

	alice := signerOf(t, kr, "//Alice")
	f.nonces[kr.AddressOf(alice)] = 5

	dest := kr.AddressOf(signerOf(t, kr, "//Bob"))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := e.submitTransfer(context.Background(), alice, dest, uint256.NewInt(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// every submission got its own slot: the contiguous range, no repeats
	want := make([]uint64, 0, workers)
	for i := uint64(5); i < 5+workers; i++ {
		want = append(want, i)
	}

	assert.ElementsMatch(t, want, f.submittedNonces())
	assert.Equal(t, 1, f.nonceCalls)
}

func TestSubmitDistinctIdentitiesDoNotSerialize(t *testing.T) {
	f := newFakeChain()
	f.nonceDelay = 150 * time.Millisecond
	e, kr := testExchange(t, f)

	alice := signerOf(t, kr, "//Alice")
	bob := signerOf(t, kr, "//Bob")
	dest := kr.AddressOf(signerOf(t, kr, "//Charlie"))

	start := time.Now()

	var wg sync.WaitGroup
	for _, s := range []*keyring.Signer{alice, bob} {
		wg.Add(1)

		go func(s *keyring.Signer) {
			defer wg.Done()

			_, err := e.submitTransfer(context.Background(), s, dest, uint256.NewInt(10))
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()

	// combined time ~ max of the two simulated latencies, not their sum
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestSubmitBuildFailureDoesNotConsumeNonce(t *testing.T) {
	f := newFakeChain()
	e, kr := testExchange(t, f)

	alice := signerOf(t, kr, "//Alice")
	f.nonces[kr.AddressOf(alice)] = 5
	dest := kr.AddressOf(signerOf(t, kr, "//Bob"))

	f.buildErr = fmt.Errorf("metadata mismatch")

	_, err := e.submitTransfer(context.Background(), alice, dest, uint256.NewInt(10))
	require.Error(t, err)

	// nothing was broadcast, so the slot is free and the nonce is re-read
	f.buildErr = nil

	_, err = e.submitTransfer(context.Background(), alice, dest, uint256.NewInt(10))
	require.NoError(t, err)

	got := f.submittedNonces()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0])
	assert.Equal(t, 2, f.nonceCalls)
}

func TestSubmitFailureDoesNotRollBack(t *testing.T) {
	f := newFakeChain()
	e, kr := testExchange(t, f)

	alice := signerOf(t, kr, "//Alice")
	f.nonces[kr.AddressOf(alice)] = 5
	dest := kr.AddressOf(signerOf(t, kr, "//Bob"))

	f.submitErr = fmt.Errorf("transport error")

	_, err := e.submitTransfer(context.Background(), alice, dest, uint256.NewInt(10))
	require.Error(t, err)

	// the chain may have observed the instruction, so the slot stays consumed
	f.submitErr = nil

	_, err = e.submitTransfer(context.Background(), alice, dest, uint256.NewInt(10))
	require.NoError(t, err)

	got := f.submittedNonces()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(6), got[0])
}
