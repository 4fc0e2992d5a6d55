package roomkey

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaster(fill byte) []byte {
	master := make([]byte, 32)
	for i := range master {
		master[i] = fill
	}
	return master
}

func TestNewDeriver_Validation(t *testing.T) {
	_, err := NewDeriver(nil)
	assert.ErrorIs(t, err, ErrNoMasterKeys)

	_, err = NewDeriver([][]byte{testMaster(1), []byte("short")})
	assert.ErrorIs(t, err, ErrMasterKeySize)

	_, err = NewDeriver([][]byte{testMaster(1)})
	assert.NoError(t, err)
}

func TestDeriveKeyset_Deterministic(t *testing.T) {
	deriver, err := NewDeriver([][]byte{testMaster(1)})
	require.NoError(t, err)

	first, err := deriver.DeriveKeyset("private_alice_bob")
	require.NoError(t, err)
	second, err := deriver.DeriveKeyset("private_alice_bob")
	require.NoError(t, err)

	// Same room, same masters: ciphertext from one keyset must open
	// with the other.
	sealed, err := first.Seal([]byte("hello"))
	require.NoError(t, err)
	plaintext, err := second.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)
}

func TestDeriveKeyset_RoomIsolation(t *testing.T) {
	deriver, err := NewDeriver([][]byte{testMaster(1)})
	require.NoError(t, err)

	aliceBob, err := deriver.DeriveKeyset("private_alice_bob")
	require.NoError(t, err)
	aliceCarol, err := deriver.DeriveKeyset("private_alice_carol")
	require.NoError(t, err)

	sealed, err := aliceBob.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = aliceCarol.Open(sealed)
	assert.ErrorIs(t, err, ErrNoMatchingKey)
}

func TestKeyset_SealOpenRoundTrip(t *testing.T) {
	deriver, err := NewDeriver([][]byte{testMaster(7)})
	require.NoError(t, err)
	keyset, err := deriver.DeriveKeyset("private_alice_bob")
	require.NoError(t, err)

	messages := [][]byte{
		[]byte("hello"),
		[]byte(""),
		[]byte("unicode: héllo wörld 你好"),
		bytes.Repeat([]byte("x"), 4096),
	}

	for _, message := range messages {
		sealed, err := keyset.Seal(message)
		require.NoError(t, err)
		assert.NotEqual(t, message, sealed)

		plaintext, err := keyset.Open(sealed)
		require.NoError(t, err)
		assert.NotNil(t, plaintext)
		assert.Equal(t, message, plaintext)
	}
}

func TestKeyset_Seal_FreshNonce(t *testing.T) {
	deriver, err := NewDeriver([][]byte{testMaster(7)})
	require.NoError(t, err)
	keyset, err := deriver.DeriveKeyset("private_alice_bob")
	require.NoError(t, err)

	first, err := keyset.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	second, err := keyset.Seal([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "identical plaintext must not produce identical ciphertext")
}

func TestKeyset_Open_Rotation(t *testing.T) {
	oldMaster := testMaster(1)
	newMaster := testMaster(2)

	oldDeriver, err := NewDeriver([][]byte{oldMaster})
	require.NoError(t, err)
	oldKeyset, err := oldDeriver.DeriveKeyset("private_alice_bob")
	require.NoError(t, err)

	sealed, err := oldKeyset.Seal([]byte("before rotation"))
	require.NoError(t, err)

	// After rotation the new master is primary and the old one is kept
	// for reads.
	rotated, err := NewDeriver([][]byte{newMaster, oldMaster})
	require.NoError(t, err)
	rotatedKeyset, err := rotated.DeriveKeyset("private_alice_bob")
	require.NoError(t, err)

	plaintext, err := rotatedKeyset.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("before rotation"), plaintext)

	// New ciphertext is sealed under the new primary only.
	fresh, err := rotatedKeyset.Seal([]byte("after rotation"))
	require.NoError(t, err)
	_, err = oldKeyset.Open(fresh)
	assert.ErrorIs(t, err, ErrNoMatchingKey)
}

func TestKeyset_Open_Corrupted(t *testing.T) {
	deriver, err := NewDeriver([][]byte{testMaster(7)})
	require.NoError(t, err)
	keyset, err := deriver.DeriveKeyset("private_alice_bob")
	require.NoError(t, err)

	sealed, err := keyset.Seal([]byte("hello"))
	require.NoError(t, err)

	corrupted := bytes.Clone(sealed)
	corrupted[len(corrupted)-1] ^= 0xff
	_, err = keyset.Open(corrupted)
	assert.ErrorIs(t, err, ErrNoMatchingKey)

	_, err = keyset.Open([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestParseMasterKeys(t *testing.T) {
	primary := base64.StdEncoding.EncodeToString(testMaster(1))
	secondary := base64.StdEncoding.EncodeToString(testMaster(2))

	masters, err := ParseMasterKeys(primary + ", " + secondary)
	require.NoError(t, err)
	require.Len(t, masters, 2)
	assert.Equal(t, testMaster(1), masters[0])
	assert.Equal(t, testMaster(2), masters[1])

	_, err = ParseMasterKeys("")
	assert.ErrorIs(t, err, ErrNoMasterKeys)

	_, err = ParseMasterKeys("not base64!!!")
	assert.Error(t, err)
}
