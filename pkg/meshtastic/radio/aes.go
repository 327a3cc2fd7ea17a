package radio

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"
)

var (
	// DefaultKey is the well-known PSK of the default LongFast channel ("AQ==").
	DefaultKey = []byte{0xd4, 0xf1, 0xbb, 0x3a, 0x20, 0x29, 0x07, 0x59, 0xf0, 0xbc, 0xff, 0xab, 0xcf, 0x4e, 0x69, 0x01}

	ErrInvalidKey = errors.New("key length must be 16 or 32 bytes")

	// ErrDecryptionFailure is returned for every decryption problem: bad key,
	// corrupt ciphertext or a plaintext that is not a Data message.
	ErrDecryptionFailure = errors.New("unable to decrypt packet")
)

// CreateNonce creates the 128-bit AES-CTR IV.
// The nonce is concatenated as [64-bit packetId][64-bit fromNode], both little endian.
func CreateNonce(packetID uint64, fromNode uint64) []byte {
	nonce := make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint64(nonce[0:], packetID)
	binary.LittleEndian.PutUint64(nonce[8:], fromNode)
	return nonce
}

// ParseKey decodes a base64 channel key. Besides full AES-128/256 keys it
// accepts the one byte shorthand used by the Meshtastic apps: 1 is the
// default key and n is the default key with its last byte advanced by n-1.
// The shorthand 0 means "no encryption" and yields a nil key.
func ParseKey(b64 string) ([]byte, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, ErrInvalidKey
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}

	switch len(key) {
	case 1:
		if key[0] == 0 {
			return nil, nil
		}
		expanded := make([]byte, len(DefaultKey))
		copy(expanded, DefaultKey)
		expanded[len(expanded)-1] += key[0] - 1
		return expanded, nil
	case 16, 32:
		return key, nil
	default:
		return nil, ErrInvalidKey
	}
}

// XOR encrypts or decrypts text with the specified key. It requires the packetID and sending node ID for the AES IV
func XOR(text []byte, key []byte, packetID, fromNode uint64) ([]byte, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	// CTR mode is the same for both encryption and decryption
	stream := cipher.NewCTR(block, CreateNonce(packetID, fromNode))
	out := make([]byte, len(text))
	stream.XORKeyStream(out, text)

	return out, nil
}

// Decrypt recovers the Data payload of an encrypted MeshPacket.
// A plaintext that does not look like a Data message is reported as a
// decryption failure, since a wrong key produces garbage rather than an error.
func Decrypt(packetID, fromNode uint64, ciphertext, key []byte) (*pb.Data, error) {
	if len(ciphertext) == 0 {
		return nil, ErrDecryptionFailure
	}

	plaintext, err := XOR(ciphertext, key, packetID, fromNode)
	if err != nil {
		return nil, ErrDecryptionFailure
	}

	var data pb.Data
	if err := proto.Unmarshal(plaintext, &data); err != nil {
		return nil, ErrDecryptionFailure
	}
	if data.GetPortnum() == pb.PortNum_UNKNOWN_APP || len(data.ProtoReflect().GetUnknown()) > 0 {
		return nil, ErrDecryptionFailure
	}

	return &data, nil
}

// Encrypt marshals and encrypts a Data payload for the given packet.
func Encrypt(data *pb.Data, key []byte, packetID, fromNode uint64) ([]byte, error) {
	raw, err := proto.Marshal(data)
	if err != nil {
		return nil, err
	}
	return XOR(raw, key, packetID, fromNode)
}
