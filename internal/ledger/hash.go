package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// PaymentHash is the idempotency key of a payment requirement: the hex sha256
// of its canonical JSON form. Key order and insignificant whitespace do not
// change the hash; number literals are kept verbatim.
func PaymentHash(requirement json.RawMessage) (string, error) {
	canonical, err := canonicalJSON(requirement)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequirement, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrInvalidRequirement)
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("%w: must be a JSON object", ErrInvalidRequirement)
	}

	// encoding/json writes map keys in sorted order.
	return json.Marshal(v)
}
