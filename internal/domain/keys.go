package domain

import (
	"strconv"
	"time"
)

const (
	AESKeySize  = 32
	HMACKeySize = 32
)

// KeyMaterial is one generation of the wallet's symmetric key pair: an
// AES-256 key for payload encryption and an HMAC-SHA256 key for integrity.
// A generation is never edited in place; rotation creates the next one.
type KeyMaterial struct {
	Version   uint32    `json:"version"`
	AESKey    []byte    `json:"aes_key"`
	HMACKey   []byte    `json:"hmac_key"`
	CreatedAt time.Time `json:"created_at"`
	RotatedAt time.Time `json:"rotated_at,omitempty"`
}

func (k KeyMaterial) VersionString() string {
	return strconv.FormatUint(uint64(k.Version), 10)
}

func (k KeyMaterial) Complete() bool {
	return len(k.AESKey) == AESKeySize && len(k.HMACKey) == HMACKeySize
}
