package federation

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// KeyIDPrefix is the bech32 human-readable prefix of signing key ids.
const KeyIDPrefix = "clk"

// GetHash returns the sha256 digest of b.
func GetHash(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// ActionID derives the immutable action id from the exact signed token
// bytes. Callers must pass the verified token verbatim, never a
// re-serialization.
func ActionID(token string) string {
	return base64.RawURLEncoding.EncodeToString(GetHash([]byte(token)))
}

// SignBytes signs data with a hex-encoded secp256k1 private key and
// returns the 65-byte recoverable signature.
func SignBytes(data []byte, privKeyHex string) ([]byte, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return ethcrypto.Sign(GetHash(data), key)
}

// VerifySignature checks a signature produced by SignBytes against a
// base64url-encoded compressed public key.
func VerifySignature(data []byte, signature []byte, publicKey string) error {
	pub, err := base64.RawURLEncoding.DecodeString(publicKey)
	if err != nil {
		return fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(signature) < 64 {
		return fmt.Errorf("signature too short")
	}
	if !ethcrypto.VerifySignature(pub, GetHash(data), signature[:64]) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// PrivKeyToPubKey derives the base64url compressed public key of a
// hex-encoded private key.
func PrivKeyToPubKey(privKeyHex string) (string, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	pub := ethcrypto.CompressPubkey(&key.PublicKey)
	return base64.RawURLEncoding.EncodeToString(pub), nil
}

// PubKeyToKeyID derives the bech32 key id of a base64url compressed
// public key.
func PubKeyToKeyID(publicKey string) (string, error) {
	pub, err := base64.RawURLEncoding.DecodeString(publicKey)
	if err != nil {
		return "", fmt.Errorf("invalid public key encoding: %w", err)
	}
	return bech32.ConvertAndEncode(KeyIDPrefix, GetHash(pub)[:20])
}

// GenerateKeyPair creates a fresh signing key. Returns the hex private
// key, the base64url compressed public key and the derived key id.
func GenerateKeyPair() (string, string, string, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", "", "", err
	}
	privHex := fmt.Sprintf("%x", ethcrypto.FromECDSA(key))
	pub := base64.RawURLEncoding.EncodeToString(ethcrypto.CompressPubkey(&key.PublicKey))
	keyID, err := PubKeyToKeyID(pub)
	if err != nil {
		return "", "", "", err
	}
	return privHex, pub, keyID, nil
}
