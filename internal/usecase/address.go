package usecase

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"walletd/internal/domain"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// ValidateWalletAddress checks format and checksum of a counterparty address
// for the given chain. It answers well-formedness only; whether the address
// exists on-chain is the upstream's problem.
func ValidateWalletAddress(chain domain.Chain, address string) error {
	switch chain {
	case domain.ChainBTC:
		return validateBTCAddress(address)
	case domain.ChainETH:
		return validateETHAddress(address)
	case domain.ChainTRC20:
		return validateTRC20Address(address)
	default:
		return fmt.Errorf("unsupported chain %q", chain)
	}
}

func validateBTCAddress(address string) error {
	if strings.HasPrefix(address, "bc1") {
		return validateBech32(address)
	}
	payload, err := decodeBase58Check(address)
	if err != nil {
		return fmt.Errorf("btc address: %w", err)
	}
	// 1 version byte + 20-byte hash.
	if len(payload) != 21 {
		return fmt.Errorf("btc address: unexpected payload length %d", len(payload))
	}
	if payload[0] != 0x00 && payload[0] != 0x05 {
		return fmt.Errorf("btc address: unknown version byte %#x", payload[0])
	}
	return nil
}

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// bech32mConst is the checksum constant for v1+ witness programs (BIP-350);
// v0 programs use the plain bech32 constant 1.
const bech32mConst = 0x2bc830a3

// validateBech32 verifies a segwit address against the BIP-173/BIP-350
// checksum. Both constants are accepted so v0 (bc1q…) and taproot (bc1p…)
// destinations validate.
func validateBech32(address string) error {
	if len(address) < 14 || len(address) > 74 {
		return fmt.Errorf("segwit address: bad length %d", len(address))
	}
	if address != strings.ToLower(address) {
		return fmt.Errorf("segwit address: mixed case")
	}
	sep := strings.LastIndexByte(address, '1')
	if sep < 1 || len(address)-sep-1 < 6 {
		return fmt.Errorf("segwit address: missing checksum part")
	}
	values := make([]byte, 0, len(address)-sep-1)
	for _, r := range address[sep+1:] {
		idx := strings.IndexRune(bech32Charset, r)
		if idx < 0 {
			return fmt.Errorf("segwit address: invalid character %q", r)
		}
		values = append(values, byte(idx))
	}
	if chk := bech32Polymod(address[:sep], values); chk != 1 && chk != bech32mConst {
		return fmt.Errorf("segwit address: checksum mismatch")
	}
	return nil
}

// bech32Polymod folds the expanded human-readable part and the data values
// through the BCH generator from BIP-173.
func bech32Polymod(hrp string, values []byte) uint32 {
	gen := [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := uint32(1)
	step := func(v byte) {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	for i := 0; i < len(hrp); i++ {
		step(hrp[i] >> 5)
	}
	step(0)
	for i := 0; i < len(hrp); i++ {
		step(hrp[i] & 31)
	}
	for _, v := range values {
		step(v)
	}
	return chk
}

func validateETHAddress(address string) error {
	if len(address) != 42 || !strings.HasPrefix(address, "0x") {
		return fmt.Errorf("eth address: must be 0x plus 40 hex characters")
	}
	body := address[2:]
	hasUpper, hasLower := false, false
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
			hasLower = true
		case r >= 'A' && r <= 'F':
			hasUpper = true
		default:
			return fmt.Errorf("eth address: invalid character %q", r)
		}
	}
	// All one case carries no checksum; mixed case must satisfy EIP-55.
	if hasUpper && hasLower {
		return validateEIP55(body)
	}
	return nil
}

func validateEIP55(body string) error {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(strings.ToLower(body)))
	digest := hasher.Sum(nil)
	for i, r := range body {
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if r >= 'a' && r <= 'f' && nibble >= 8 {
			return fmt.Errorf("eth address: checksum mismatch at position %d", i)
		}
		if r >= 'A' && r <= 'F' && nibble < 8 {
			return fmt.Errorf("eth address: checksum mismatch at position %d", i)
		}
	}
	return nil
}

func validateTRC20Address(address string) error {
	payload, err := decodeBase58Check(address)
	if err != nil {
		return fmt.Errorf("trc20 address: %w", err)
	}
	if len(payload) != 21 {
		return fmt.Errorf("trc20 address: unexpected payload length %d", len(payload))
	}
	if payload[0] != 0x41 {
		return fmt.Errorf("trc20 address: unknown version byte %#x", payload[0])
	}
	return nil
}

// decodeBase58Check decodes and strips the trailing 4-byte double-SHA256
// checksum, returning version byte plus hash.
func decodeBase58Check(address string) ([]byte, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("not base58: %w", err)
	}
	if len(decoded) < 5 {
		return nil, fmt.Errorf("too short")
	}
	payload := decoded[:len(decoded)-4]
	checksum := decoded[len(decoded)-4:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	for i := 0; i < 4; i++ {
		if checksum[i] != second[i] {
			return nil, fmt.Errorf("checksum mismatch")
		}
	}
	return payload, nil
}
