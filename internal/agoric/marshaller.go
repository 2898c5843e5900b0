package agoric

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-errors/errors"
)

// The destination ledger serializes structured data as CapData with a
// smallcaps body: the body is the JSON encoding prefixed with "#", bigints
// travel as strings prefixed with "+". Only this slotless subset is needed
// for wallet actions and policy documents.

type CapData struct {
	Body  string        `json:"body"`
	Slots []interface{} `json:"slots"`
}

// MarshalCapData wraps v into a slotless smallcaps CapData JSON string.
func MarshalCapData(v interface{}) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", errors.Errorf("failed to marshal capdata body: %v", err)
	}
	out, err := json.Marshal(CapData{Body: "#" + string(body), Slots: []interface{}{}})
	if err != nil {
		return "", errors.Errorf("failed to marshal capdata: %v", err)
	}
	return string(out), nil
}

// UnmarshalCapData decodes a smallcaps CapData JSON string into v.
func UnmarshalCapData(raw string, v interface{}) error {
	var cd CapData
	if err := json.Unmarshal([]byte(raw), &cd); err != nil {
		return errors.Errorf("failed to unmarshal capdata envelope: %v", err)
	}
	if !strings.HasPrefix(cd.Body, "#") {
		return errors.Errorf("unsupported capdata body encoding: %.16q", cd.Body)
	}
	if err := json.Unmarshal([]byte(cd.Body[1:]), v); err != nil {
		return errors.Errorf("failed to unmarshal capdata body: %v", err)
	}
	return nil
}

// Bigint is a smallcaps bigint: "+N" as a string on the wire. Plain JSON
// numbers are accepted on decode since some policy fields use either form.
type Bigint uint64

func (b Bigint) MarshalJSON() ([]byte, error) {
	return json.Marshal("+" + strconv.FormatUint(uint64(b), 10))
}

func (b *Bigint) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty bigint")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimPrefix(s, "+")
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return errors.Errorf("invalid bigint %q: %v", s, err)
		}
		*b = Bigint(n)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = Bigint(n)
	return nil
}
