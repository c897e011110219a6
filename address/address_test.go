package address

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec("sei")
	raw := crypto.Keccak256([]byte("acct"))[12:]

	s, err := c.Encode(raw)
	require.NoError(t, err)
	require.Equal(t, "sei1", s[:4])

	back, err := c.Decode(s)
	require.NoError(t, err)
	require.Equal(t, raw, back)

	_, err = NewCodec("cosmos").Decode(s)
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = c.Encode(raw[:19])
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestParseAcceptsBothFormats(t *testing.T) {
	c := NewCodec("sei")
	raw := crypto.Keccak256([]byte("x"))[12:]

	got, ok := c.Parse(Cast(raw).Hex())
	require.True(t, ok)
	require.Equal(t, raw, got)

	got, ok = c.Parse(c.MustEncode(raw))
	require.True(t, ok)
	require.Equal(t, raw, got)

	_, ok = c.Parse("uatom")
	require.False(t, ok)
}

func TestKeyDerivation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	uncompressed := crypto.FromECDSAPub(&key.PublicKey)
	compressed := crypto.CompressPubkey(&key.PublicKey)

	evm, err := EVMFromPubKey(uncompressed)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), evm)

	evm2, err := EVMFromPubKey(compressed)
	require.NoError(t, err)
	require.Equal(t, evm, evm2)

	n1, err := NativeFromPubKey(uncompressed)
	require.NoError(t, err)
	n2, err := NativeFromPubKey(compressed)
	require.NoError(t, err)
	require.Equal(t, n1, n2)
	require.Len(t, n1, Length)
}

func TestRecoverPubKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	msg := []byte("associate me")
	sig, err := crypto.Sign(crypto.Keccak256(msg), key)
	require.NoError(t, err)

	pub, err := RecoverPubKey(msg, sig)
	require.NoError(t, err)
	require.Equal(t, crypto.FromECDSAPub(&key.PublicKey), pub)

	// Legacy 27/28 recovery ids are accepted too.
	sig[64] += 27
	pub, err = RecoverPubKey(msg, sig)
	require.NoError(t, err)
	require.Equal(t, crypto.FromECDSAPub(&key.PublicKey), pub)

	_, err = RecoverPubKey(msg, sig[:64])
	require.Error(t, err)
}
