package subcipher_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardsharp/cardsharp/pkg/lfsr"
	"github.com/cardsharp/cardsharp/pkg/subcipher"
)

func makeNonce(rng *rand.Rand) []byte {
	nonce := make([]byte, subcipher.NonceSize)
	rng.Read(nonce)
	return nonce
}

// drawStream replays the combined register output for a key, exactly as
// a session consumes it.
func drawStream(t *testing.T, key uint64, n int) []byte {
	t.Helper()
	reg17, err := lfsr.New(subcipher.Seed17FromKey(key), subcipher.Taps17, subcipher.Width17)
	require.NoError(t, err)
	reg32, err := lfsr.New(subcipher.Seed32FromKey(key), subcipher.Taps32, subcipher.Width32)
	require.NoError(t, err)
	draws := make([]byte, n)
	for i := range draws {
		draws[i] = reg17.NextByte() ^ reg32.NextByte()
	}
	return draws
}

func TestSession_Lifecycle(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	nonce := makeNonce(rng)

	sess := subcipher.NewSession()

	_, err := sess.EncryptSymbol(0x41)
	assert.ErrorIs(t, err, subcipher.ErrSessionNotActive)
	assert.ErrorIs(t, sess.End(), subcipher.ErrSessionNotActive)

	require.NoError(t, sess.Begin(0x1122334455, nonce))
	assert.ErrorIs(t, sess.Begin(0x1122334455, nonce), subcipher.ErrSessionAlreadyActive)

	_, err = sess.EncryptSymbol(0x41)
	require.NoError(t, err)

	require.NoError(t, sess.End())
	_, err = sess.DecryptSymbol(0x41)
	assert.ErrorIs(t, err, subcipher.ErrSessionNotActive)

	// a fresh Begin after End is allowed
	require.NoError(t, sess.Begin(0x1122334455, nonce))
}

func TestSessionBegin_Validation(t *testing.T) {
	nonce := make([]byte, subcipher.NonceSize)

	sess := subcipher.NewSession()
	assert.ErrorIs(t, sess.Begin(1<<subcipher.KeyBits, nonce), subcipher.ErrInvalidKey)
	assert.ErrorIs(t, sess.Begin(1, nonce[:255]), subcipher.ErrInvalidNonce)
	assert.ErrorIs(t, sess.Begin(1, append(nonce, 0)), subcipher.ErrInvalidNonce)
}

func TestSession_EncryptDecryptRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, size := range []int{0, 1, 2, 16, 255, 256, 511, 512} {
		key := rng.Uint64() & subcipher.KeyMask
		nonce := makeNonce(rng)
		plaintext := make([]byte, size)
		rng.Read(plaintext)

		enc := subcipher.NewSession()
		require.NoError(t, enc.Begin(key, nonce))
		ciphertext, err := enc.Encrypt(plaintext)
		require.NoError(t, err)

		dec := subcipher.NewSession()
		require.NoError(t, dec.Begin(key, nonce))
		decrypted, err := dec.Decrypt(ciphertext)
		require.NoError(t, err)

		assert.True(t, bytes.Equal(plaintext, decrypted), "size %d", size)
	}
}

func TestSession_TablesStayMutuallyInverse(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	sess := subcipher.NewSession()
	require.NoError(t, sess.Begin(rng.Uint64()&subcipher.KeyMask, makeNonce(rng)))

	checkInverse := func() {
		forward, inverse := sess.Table(), sess.InverseTable()
		for v := 0; v < 256; v++ {
			if inverse[forward[v]] != byte(v) {
				t.Fatalf("tables diverged at %d", v)
			}
		}
	}

	checkInverse()
	for i := 0; i < 10000; i++ {
		_, err := sess.EncryptSymbol(byte(rng.Intn(256)))
		require.NoError(t, err)
		checkInverse()
	}
}

func TestSession_TableMatchesBiasedShuffleReference(t *testing.T) {
	// Reference construction of the table with the plain biased modulo
	// reduction. Pins the draw reduction rule: swapping it for an
	// unbiased draw would change the table.
	rng := rand.New(rand.NewSource(4))
	key := rng.Uint64() & subcipher.KeyMask
	nonce := makeNonce(rng)

	draws := drawStream(t, key, subcipher.InitDraws)
	var want [256]byte
	for i := range want {
		want[i] = byte(i)
	}
	d := 0
	for i := 255; i >= 1; i-- {
		j := int(draws[d]) % (i + 1)
		d++
		want[i], want[j] = want[j], want[i]
	}
	j := 0
	for i := 0; i < 256; i++ {
		j = (j + int(draws[d]) + int(want[i]) + int(nonce[i])) & 0xff
		d++
		want[i], want[j] = want[j], want[i]
	}
	require.Equal(t, subcipher.InitDraws, d)

	sess := subcipher.NewSession()
	require.NoError(t, sess.Begin(key, nonce))
	assert.Equal(t, want, sess.Table())
}

func TestModuloReduction_BiasShape(t *testing.T) {
	// For a uniform byte reduced mod (i+1), the low residues get one
	// extra preimage whenever i+1 does not divide 256.
	for _, limit := range []int{170, 129, 100, 3} {
		counts := make([]int, limit)
		for r := 0; r < 256; r++ {
			counts[r%limit]++
		}
		boundary := 256 % limit
		for j, n := range counts {
			want := 256 / limit
			if j < boundary {
				want++
			}
			assert.Equal(t, want, n, "limit %d residue %d", limit, j)
		}
	}
}

func TestSession_FixedPointLeaksDrawValue(t *testing.T) {
	// When the update draw at a position equals the symbol being
	// processed, the swap is a no-op and the next ciphertext byte
	// repeats. Equal adjacent pairs must appear at exactly the
	// positions where the replayed draw stream hits the filler value.
	rng := rand.New(rand.NewSource(5))
	const length = subcipher.MaxMessageSize

	key := rng.Uint64() & subcipher.KeyMask
	nonce := makeNonce(rng)
	draws := drawStream(t, key, subcipher.InitDraws+length)

	filler := draws[subcipher.InitDraws+37] // guarantees at least one fixed point

	sess := subcipher.NewSession()
	require.NoError(t, sess.Begin(key, nonce))
	ciphertext, err := sess.Encrypt(bytes.Repeat([]byte{filler}, length))
	require.NoError(t, err)

	for p := 0; p < length-1; p++ {
		isFixedPoint := draws[subcipher.InitDraws+p] == filler
		assert.Equal(t, isFixedPoint, ciphertext[p] == ciphertext[p+1], "position %d", p)
	}
}

func TestSession_DecryptUpdatesOnRecoveredPlaintext(t *testing.T) {
	// Symbol-by-symbol interleaving: each decrypted byte must keep the
	// decrypting table in lockstep with the encrypting one, which only
	// holds if the update is fed the recovered plaintext value.
	rng := rand.New(rand.NewSource(6))
	key := rng.Uint64() & subcipher.KeyMask
	nonce := makeNonce(rng)

	enc := subcipher.NewSession()
	dec := subcipher.NewSession()
	require.NoError(t, enc.Begin(key, nonce))
	require.NoError(t, dec.Begin(key, nonce))

	for i := 0; i < 512; i++ {
		v := byte(rng.Intn(256))
		c, err := enc.EncryptSymbol(v)
		require.NoError(t, err)
		got, err := dec.DecryptSymbol(c)
		require.NoError(t, err)
		require.Equal(t, v, got, "desynchronized at symbol %d", i)
	}
}

func TestKeySplit_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		key := rng.Uint64() & subcipher.KeyMask
		seed17 := subcipher.Seed17FromKey(key)
		seed32 := subcipher.Seed32FromKey(key)
		assert.NotZero(t, seed17)
		assert.NotZero(t, seed32)
		assert.Equal(t, key, subcipher.KeyFromSeeds(seed17, seed32))
	}
}
