package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var ErrInvalidIDL = errors.New("invalid program IDL")

// IDL is the part of an Anchor IDL the service checks accounts against.
// Every account must declare its allocated size.
type IDL struct {
	Version  string       `json:"version"`
	Name     string       `json:"name"`
	Accounts     []IDLAccount     `json:"accounts"`
	Instructions []IDLInstruction `json:"instructions"`
	Errors       []IDLError       `json:"errors"`
}

type IDLAccount struct {
	Name string `json:"name"`
	// Size is the full allocation including the 8 byte discriminator.
	Size *int `json:"size"`
	// Discriminator is optional; newer Anchor versions emit it.
	Discriminator []byte `json:"-"`
	RawDisc       []int  `json:"discriminator,omitempty"`
}

// IDLInstruction names a program entrypoint. Discriminator follows the
// same rules as IDLAccount.
type IDLInstruction struct {
	Name          string `json:"name"`
	Discriminator []byte `json:"-"`
	RawDisc       []int  `json:"discriminator,omitempty"`
}

type IDLError struct {
	Code uint32 `json:"code"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

// LoadIDL reads and validates an IDL file.
func LoadIDL(path string) (*IDL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read IDL %s: %w", path, err)
	}
	idl, err := ParseIDL(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idl, nil
}

// ParseIDL decodes an IDL and fails on any account without a usable size.
// A missing size is never filled in with a guess.
func ParseIDL(data []byte) (*IDL, error) {
	var idl IDL
	if err := json.Unmarshal(data, &idl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDL, err)
	}

	var problems []error
	if idl.Name == "" {
		problems = append(problems, errors.New("missing program name"))
	}
	if len(idl.Accounts) == 0 {
		problems = append(problems, errors.New("no accounts declared"))
	}
	seen := make(map[string]bool, len(idl.Accounts))
	for i := range idl.Accounts {
		acc := &idl.Accounts[i]
		switch {
		case acc.Name == "":
			problems = append(problems, fmt.Errorf("account %d: missing name", i))
			continue
		case seen[acc.Name]:
			problems = append(problems, fmt.Errorf("account %q: declared twice", acc.Name))
		}
		seen[acc.Name] = true

		if acc.Size == nil {
			problems = append(problems, fmt.Errorf("account %q: missing required field \"size\"", acc.Name))
		} else if *acc.Size < 8 {
			problems = append(problems, fmt.Errorf("account %q: size %d is smaller than the 8 byte discriminator", acc.Name, *acc.Size))
		}

		if len(acc.RawDisc) > 0 {
			disc, err := rawDiscriminator(acc.RawDisc)
			if err != nil {
				problems = append(problems, fmt.Errorf("account %q: %w", acc.Name, err))
				continue
			}
			acc.Discriminator = disc
		} else {
			d := AccountDiscriminator(acc.Name)
			acc.Discriminator = d[:]
		}
	}
	for i := range idl.Instructions {
		ix := &idl.Instructions[i]
		if ix.Name == "" {
			problems = append(problems, fmt.Errorf("instruction %d: missing name", i))
			continue
		}
		if len(ix.RawDisc) == 0 {
			d := InstructionDiscriminator(ix.Name)
			ix.Discriminator = d[:]
			continue
		}
		disc, err := rawDiscriminator(ix.RawDisc)
		if err != nil {
			problems = append(problems, fmt.Errorf("instruction %q: %w", ix.Name, err))
			continue
		}
		ix.Discriminator = disc
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDL, errors.Join(problems...))
	}
	return &idl, nil
}

// AccountDiscriminator is Anchor's 8 byte account tag: sha256("account:<Name>")[:8].
func AccountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// InstructionDiscriminator is Anchor's 8 byte instruction tag: sha256("global:<name>")[:8].
func InstructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

func rawDiscriminator(raw []int) ([]byte, error) {
	if len(raw) != 8 {
		return nil, errors.New("discriminator must be 8 bytes")
	}
	out := make([]byte, 8)
	for j, b := range raw {
		if b < 0 || b > 255 {
			return nil, fmt.Errorf("discriminator byte %d out of range", j)
		}
		out[j] = byte(b)
	}
	return out, nil
}

// Discriminator returns the tag of the named instruction, falling back to
// the Anchor derivation when the IDL does not declare it. A nil IDL
// always derives.
func (idl *IDL) Discriminator(instruction string) [8]byte {
	if idl != nil {
		for _, ix := range idl.Instructions {
			if ix.Name == instruction && len(ix.Discriminator) == 8 {
				var d [8]byte
				copy(d[:], ix.Discriminator)
				return d
			}
		}
	}
	return InstructionDiscriminator(instruction)
}

func (idl *IDL) Account(name string) (IDLAccount, bool) {
	for _, acc := range idl.Accounts {
		if acc.Name == name {
			return acc, true
		}
	}
	return IDLAccount{}, false
}

// ErrorMessage returns the program's own message for a custom error code.
func (idl *IDL) ErrorMessage(code uint32) (string, bool) {
	for _, e := range idl.Errors {
		if e.Code == code {
			return e.Msg, true
		}
	}
	return "", false
}

// VerifyAccount checks that info is an initialized account of the named
// type owned by program. Mismatches are Fatal AccountMismatch errors.
func (idl *IDL) VerifyAccount(name string, info *AccountInfo, program PublicKey) error {
	acc, ok := idl.Account(name)
	if !ok {
		return fmt.Errorf("%w: account type %q not declared", ErrInvalidIDL, name)
	}
	if info.Owner != program.String() {
		return NewError(KindAccountMismatch, fmt.Errorf("%s account owned by %s, expected %s", name, info.Owner, program))
	}
	if len(info.Data) != *acc.Size {
		return NewError(KindAccountMismatch, fmt.Errorf("%s account is %d bytes, expected %d", name, len(info.Data), *acc.Size))
	}
	if !bytes.Equal(info.Data[:8], acc.Discriminator) {
		return NewError(KindAccountMismatch, fmt.Errorf("%s account discriminator mismatch", name))
	}
	return nil
}
