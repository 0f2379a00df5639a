package genesis

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"datalayr/crypto"
	"datalayr/native/common"
)

// Spec describes the initial operator set and balances of a node.
type Spec struct {
	Operators []OperatorSpec    `yaml:"operators"`
	Alloc     map[string]string `yaml:"alloc"`
	Pauses    []string          `yaml:"pauses,omitempty"`

	operators []operator
	alloc     map[[20]byte]*big.Int
}

// OperatorSpec registers an operator key and its opening stake window. The
// address may be omitted, in which case it is derived from the public key.
type OperatorSpec struct {
	Address   string `yaml:"address,omitempty"`
	PubKey    string `yaml:"pubKey"`
	Weight    string `yaml:"weight"`
	AsOfIndex uint64 `yaml:"asOfIndex"`
}

type operator struct {
	address   [20]byte
	pubKey    []byte
	weight    *uint256.Int
	asOfIndex uint64
}

// LoadSpec reads and validates a YAML genesis file.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis %q: %w", path, err)
	}
	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis %q: %w", path, err)
	}
	return spec, nil
}

// ParseSpec decodes raw YAML, rejecting unknown fields.
func ParseSpec(raw []byte) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *Spec) validate() error {
	seen := make(map[[20]byte]struct{}, len(s.Operators))
	s.operators = make([]operator, 0, len(s.Operators))
	for i, op := range s.Operators {
		parsed, err := op.parse()
		if err != nil {
			return fmt.Errorf("operators[%d]: %w", i, err)
		}
		if _, dup := seen[parsed.address]; dup {
			return fmt.Errorf("operators[%d]: duplicate operator %s", i, crypto.FormatAddress(parsed.address))
		}
		seen[parsed.address] = struct{}{}
		s.operators = append(s.operators, parsed)
	}

	s.alloc = make(map[[20]byte]*big.Int, len(s.Alloc))
	for addrStr, amountStr := range s.Alloc {
		addr, err := crypto.ParseAddress(addrStr)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(amountStr), 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("alloc[%q]: invalid amount %q", addrStr, amountStr)
		}
		if _, dup := s.alloc[addr]; dup {
			return fmt.Errorf("alloc[%q]: duplicate account", addrStr)
		}
		s.alloc[addr] = amount
	}

	for _, module := range s.Pauses {
		if !common.KnownModule(module) {
			return fmt.Errorf("pauses: unknown module %q", module)
		}
	}
	return nil
}

func (o OperatorSpec) parse() (operator, error) {
	pubHex := strings.TrimPrefix(strings.TrimSpace(o.PubKey), "0x")
	pubKey, err := hex.DecodeString(pubHex)
	if err != nil {
		return operator{}, fmt.Errorf("pubKey: %w", err)
	}
	pub, err := crypto.ParsePublicKey(pubKey)
	if err != nil {
		return operator{}, fmt.Errorf("pubKey: %w", err)
	}
	derived := pub.Address().Array()
	address := derived
	if strings.TrimSpace(o.Address) != "" {
		address, err = crypto.ParseAddress(o.Address)
		if err != nil {
			return operator{}, fmt.Errorf("address: %w", err)
		}
		if address != derived {
			return operator{}, fmt.Errorf("address %s does not match pubKey", o.Address)
		}
	}
	weight, err := uint256.FromDecimal(strings.TrimSpace(o.Weight))
	if err != nil {
		return operator{}, fmt.Errorf("weight %q: %w", o.Weight, err)
	}
	if o.AsOfIndex == 0 {
		return operator{}, fmt.Errorf("asOfIndex must be positive")
	}
	return operator{address: address, pubKey: pubKey, weight: weight, asOfIndex: o.AsOfIndex}, nil
}
