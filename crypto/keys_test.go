package crypto

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := key.PubKey().Address()
	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr.Bytes(), decoded.Bytes())
	require.Equal(t, OperatorPrefix, decoded.Prefix())

	parsed, err := ParseAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr.Array(), parsed)

	hexParsed, err := ParseAddress("0x" + ethcrypto.PubkeyToAddress(key.PublicKey).Hex()[2:])
	require.NoError(t, err)
	require.Equal(t, addr.Array(), hexParsed)
}

func TestNewAddressRejectsWrongLength(t *testing.T) {
	_, err := NewAddress(OperatorPrefix, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestSignAndParsePublicKey(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	digest := ethcrypto.Keccak256Hash([]byte("payload"))

	sig, err := key.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := ParsePublicKey(key.PubKey().Compressed())
	require.NoError(t, err)
	require.True(t, ethcrypto.VerifySignature(ethcrypto.CompressPubkey(pub.PublicKey), digest[:], sig[:64]))

	_, err = ParsePublicKey([]byte{1, 2})
	require.Error(t, err)

	restored, err := PrivateKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Bytes(), restored.PubKey().Address().Bytes())
}

func TestVaultAddressDeterministic(t *testing.T) {
	require.Equal(t, VaultAddress("fees"), VaultAddress(" FEES "))
	require.NotEqual(t, VaultAddress("fees"), VaultAddress("payout"))
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "operator.keystore")

	require.NoError(t, saveKeystore(path, key, "secret", keystore.LightScryptN, keystore.LightScryptP))

	loaded, err := LoadFromKeystore(path, "secret")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
