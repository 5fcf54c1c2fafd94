package domain

// EncryptedEnvelope is the wire and storage format for encrypted payloads.
// Auth covers (iv, ciphertext) under the HMAC key of the generation named by
// Version; an envelope whose recomputed tag disagrees must never be decrypted.
type EncryptedEnvelope struct {
	IV        string `json:"iv"`      // base64 GCM nonce
	Data      string `json:"data"`    // base64 ciphertext
	Auth      string `json:"auth"`    // hex HMAC-SHA256
	Version   string `json:"version"` // key generation
	Timestamp int64  `json:"ts"`      // epoch millis at encryption
}
