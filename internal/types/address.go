package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cosmos/cosmos-sdk/types/bech32"
)

// EncodeMintRecipient converts a bech32 address to the 32-byte left-padded
// hex form used by the CCTP mintRecipient field.
func EncodeMintRecipient(address string) (string, error) {
	_, raw, err := bech32.DecodeAndConvert(address)
	if err != nil {
		return "", fmt.Errorf("failed to decode bech32 address %s: %w", address, err)
	}
	if len(raw) > 32 {
		return "", fmt.Errorf("address payload too long: %d bytes", len(raw))
	}
	padded := make([]byte, 32)
	copy(padded[32-len(raw):], raw)
	return "0x" + hex.EncodeToString(padded), nil
}

// DecodeToNoble converts a 32-byte padded hex mintRecipient back to a noble
// bech32 address. The address payload is the last 20 bytes.
func DecodeToNoble(encoded string) (string, error) {
	hexStr := strings.TrimPrefix(encoded, "0x")
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", fmt.Errorf("failed to decode mint recipient %s: %w", encoded, err)
	}
	if len(raw) < 20 {
		return "", fmt.Errorf("mint recipient too short: %d bytes", len(raw))
	}
	addr, err := bech32.ConvertAndEncode("noble", raw[len(raw)-20:])
	if err != nil {
		return "", err
	}
	return addr, nil
}

// DecodeAddressHook splits a forwarding recipient of the form <base>+<EUD>
// into the settlement base address and the end user destination. Recipients
// without the hook query are rejected.
func DecodeAddressHook(recipient string) (base string, eud string, err error) {
	idx := strings.Index(recipient, "+")
	if idx <= 0 || idx == len(recipient)-1 {
		return "", "", fmt.Errorf("no EUD parameter in recipient %s", recipient)
	}
	return recipient[:idx], recipient[idx+1:], nil
}
