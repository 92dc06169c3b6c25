// Package artifact loads compiled contract artifacts and links library
// addresses into their creation bytecode.
package artifact

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotFound is returned when no artifact has the requested name.
	ErrNotFound = errors.New("artifact: not found")
	// ErrAmbiguous is returned when a short name matches several sources.
	ErrAmbiguous = errors.New("artifact: ambiguous name")
	// ErrNotArtifact is returned for JSON documents without an ABI.
	ErrNotArtifact = errors.New("artifact: not a contract artifact")
	// ErrNoBytecode is returned when deploying an abstract contract or interface.
	ErrNoBytecode = errors.New("artifact: no creation bytecode")
	// ErrUnresolvedLibrary is returned when a link reference has no address.
	ErrUnresolvedLibrary = errors.New("artifact: unresolved library")
	// ErrUnknownLibrary is returned when an address is supplied for a library
	// the bytecode does not reference.
	ErrUnknownLibrary = errors.New("artifact: unknown library")
	// ErrInvalidLinkReference is returned for out of range link offsets.
	ErrInvalidLinkReference = errors.New("artifact: invalid link reference")
	// ErrChecksumMismatch is returned when a bundle fails verification.
	ErrChecksumMismatch = errors.New("artifact: checksum mismatch")
	// ErrChecksumRequired is returned when fetching a bundle without a checksum.
	ErrChecksumRequired = errors.New("artifact: checksum required")
)

// Offset locates a 20 byte library placeholder in creation bytecode.
type Offset struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// LinkReferences maps source file to library name to placeholder offsets.
type LinkReferences map[string]map[string][]Offset

// Artifact is a compiled contract.
type Artifact struct {
	Name           string
	SourceName     string
	ABI            abi.ABI
	RawABI         json.RawMessage
	Bytecode       string
	LinkReferences LinkReferences
	Path           string
}

type rawArtifact struct {
	ContractName   string          `json:"contractName"`
	SourceName     string          `json:"sourceName"`
	ABI            json.RawMessage `json:"abi"`
	Bytecode       json.RawMessage `json:"bytecode"`
	LinkReferences LinkReferences  `json:"linkReferences"`
}

// foundryBytecode is the object form used by forge output.
type foundryBytecode struct {
	Object         string         `json:"object"`
	LinkReferences LinkReferences `json:"linkReferences"`
}

// Parse decodes a Hardhat or Foundry artifact. name is used when the
// document does not carry a contract name.
func Parse(name string, data []byte) (*Artifact, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArtifact, err)
	}
	if len(raw.ABI) == 0 || len(raw.Bytecode) == 0 {
		return nil, ErrNotArtifact
	}

	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi of %s: %w", name, err)
	}

	a := &Artifact{
		Name:           name,
		SourceName:     raw.SourceName,
		ABI:            parsed,
		RawABI:         raw.ABI,
		LinkReferences: raw.LinkReferences,
	}
	if raw.ContractName != "" {
		a.Name = raw.ContractName
	}

	switch bytes.TrimSpace(raw.Bytecode)[0] {
	case '"':
		if err := json.Unmarshal(raw.Bytecode, &a.Bytecode); err != nil {
			return nil, fmt.Errorf("parse bytecode of %s: %w", a.Name, err)
		}
	case '{':
		var fb foundryBytecode
		if err := json.Unmarshal(raw.Bytecode, &fb); err != nil {
			return nil, fmt.Errorf("parse bytecode of %s: %w", a.Name, err)
		}
		a.Bytecode = fb.Object
		if len(a.LinkReferences) == 0 {
			a.LinkReferences = fb.LinkReferences
		}
	default:
		return nil, ErrNotArtifact
	}
	a.Bytecode = strings.TrimPrefix(a.Bytecode, "0x")
	return a, nil
}

// QualifiedName returns "source:Name" when the source is known.
func (a *Artifact) QualifiedName() string {
	if a.SourceName == "" {
		return a.Name
	}
	return a.SourceName + ":" + a.Name
}

// NeedsLinking reports whether the bytecode references external libraries.
func (a *Artifact) NeedsLinking() bool {
	for _, refs := range a.LinkReferences {
		if len(refs) > 0 {
			return true
		}
	}
	return false
}

// Libraries returns the sorted names of referenced libraries.
func (a *Artifact) Libraries() []string {
	seen := make(map[string]bool)
	var names []string
	for _, refs := range a.LinkReferences {
		for lib := range refs {
			if !seen[lib] {
				seen[lib] = true
				names = append(names, lib)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Link returns creation bytecode with every library placeholder replaced by
// the matching address. Libraries may be keyed by bare name or by
// "source:Name". Every reference must be resolved and every supplied
// library must be referenced.
func (a *Artifact) Link(libs map[string]common.Address) ([]byte, error) {
	if a.Bytecode == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoBytecode, a.Name)
	}

	code := []byte(a.Bytecode)
	used := make(map[string]bool, len(libs))

	sources := make([]string, 0, len(a.LinkReferences))
	for source := range a.LinkReferences {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	for _, source := range sources {
		refs := a.LinkReferences[source]
		names := make([]string, 0, len(refs))
		for lib := range refs {
			names = append(names, lib)
		}
		sort.Strings(names)

		for _, lib := range names {
			addr, key, ok := lookupLibrary(libs, source, lib)
			if !ok {
				return nil, fmt.Errorf("%w: %s needs %s:%s", ErrUnresolvedLibrary, a.Name, source, lib)
			}
			used[key] = true

			hexAddr := hex.EncodeToString(addr.Bytes())
			for _, off := range refs[lib] {
				start, end := off.Start*2, (off.Start+off.Length)*2
				if off.Length != common.AddressLength || start < 0 || end > len(code) {
					return nil, fmt.Errorf("%w: %s at %d+%d", ErrInvalidLinkReference, lib, off.Start, off.Length)
				}
				copy(code[start:end], hexAddr)
			}
		}
	}

	for key := range libs {
		if !used[key] {
			return nil, fmt.Errorf("%w: %s does not reference %s", ErrUnknownLibrary, a.Name, key)
		}
	}

	out, err := hex.DecodeString(string(code))
	if err != nil {
		return nil, fmt.Errorf("decode bytecode of %s: %w", a.Name, err)
	}
	return out, nil
}

func lookupLibrary(libs map[string]common.Address, source, lib string) (common.Address, string, bool) {
	qualified := source + ":" + lib
	if addr, ok := libs[qualified]; ok {
		return addr, qualified, true
	}
	addr, ok := libs[lib]
	return addr, lib, ok
}
