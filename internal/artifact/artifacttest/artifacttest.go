// Package artifacttest builds small deployable artifacts for tests.
package artifacttest

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exalotto/deployer/internal/artifact"
)

// Bytecode creates a contract whose runtime answers every call with
// uint256(42). Anything appended after it, including constructor
// arguments, is ignored.
const Bytecode = "600a600c600039600a6000f3" + "602a60005260206000f3"

// CodeSize is the length of Bytecode in bytes.
const CodeSize = 22

// AnswerABI exposes a view returning the constant and a state changing method.
const AnswerABI = `[
	{"type":"function","name":"answer","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"ping","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"fund","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[{"name":"value","type":"uint256"}],"outputs":[]}
]`

// ProxyABI is the constructor of an ERC1967 proxy.
const ProxyABI = `[
	{"type":"constructor","stateMutability":"payable","inputs":[{"name":"implementation","type":"address"},{"name":"_data","type":"bytes"}]}
]`

// Placeholder returns a 40 character library placeholder.
func Placeholder(i int) string {
	return fmt.Sprintf("__$%034x$__", i)
}

// JSON returns a Hardhat artifact document. Each named library gets a
// placeholder appended after the runtime code.
func JSON(name, abiJSON string, libraries ...string) []byte {
	code := "0x" + Bytecode
	refs := artifact.LinkReferences{}
	for i, lib := range libraries {
		code += Placeholder(i)
		refs["contracts/"+lib+".sol"] = map[string][]artifact.Offset{
			lib: {{Start: CodeSize + i*20, Length: 20}},
		}
	}

	doc := map[string]any{
		"_format":          "hh-sol-artifact-1",
		"contractName":     name,
		"sourceName":       "contracts/" + name + ".sol",
		"abi":              json.RawMessage(abiJSON),
		"bytecode":         code,
		"deployedBytecode": "0x",
		"linkReferences":   refs,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// New parses an artifact built by JSON.
func New(t testing.TB, name, abiJSON string, libraries ...string) *artifact.Artifact {
	t.Helper()
	a, err := artifact.Parse(name, JSON(name, abiJSON, libraries...))
	require.NoError(t, err)
	return a
}
