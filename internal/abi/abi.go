// Package abi resolves table schemas: which secondary-index kinds a table
// type declares. The engine consults it once per table creation.
package abi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/klingon-exchange/chaindb/internal/keys"
)

// Registry errors.
var (
	ErrUnknownType = errors.New("unknown table type")
	ErrTypeExists  = errors.New("table type already registered")
)

// documentCacheSize bounds the number of code accounts whose parsed ABI
// document is cached (one document per code account).
const documentCacheSize = 128

// TableDef declares one table in an ABI document.
type TableDef struct {
	Name       string   `json:"name"`
	Type       uint16   `json:"type"`
	IndexKinds []string `json:"index_kinds"`
}

// Document is the table section of a contract ABI.
type Document struct {
	Version string     `json:"version"`
	Tables  []TableDef `json:"tables"`
}

// Registry maps table type ids to their secondary-index kinds. Parsed ABI
// documents are cached per code account so repeated deployments of the
// same contract resolve without re-parsing.
type Registry struct {
	mu    sync.RWMutex
	types map[uint16][]keys.Kind
	docs  *lru.Cache[uint64, *Document]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	docs, err := lru.New[uint64, *Document](documentCacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &Registry{
		types: make(map[uint16][]keys.Kind),
		docs:  docs,
	}
}

// RegisterType declares the secondary kinds for a table type id.
func (r *Registry) RegisterType(typeID uint16, kinds []keys.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[typeID]; ok {
		return fmt.Errorf("%w: %d", ErrTypeExists, typeID)
	}
	r.types[typeID] = append([]keys.Kind(nil), kinds...)
	return nil
}

// SecondaryKinds returns the kinds declared for typeID. It implements the
// database.SchemaResolver interface.
func (r *Registry) SecondaryKinds(typeID uint16) ([]keys.Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds, ok := r.types[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typeID)
	}
	return append([]keys.Kind(nil), kinds...), nil
}

// LoadDocument parses an ABI document for a code account and registers
// every table type it declares. Re-loading the same code replaces the
// cached document; type registrations are additive and must not conflict.
func (r *Registry) LoadDocument(code uint64, raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse abi document: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tbl := range doc.Tables {
		kinds := make([]keys.Kind, 0, len(tbl.IndexKinds))
		for _, name := range tbl.IndexKinds {
			kind, err := keys.ParseKind(name)
			if err != nil {
				return nil, fmt.Errorf("table %q: %w", tbl.Name, err)
			}
			kinds = append(kinds, kind)
		}
		if existing, ok := r.types[tbl.Type]; ok {
			if !kindsEqual(existing, kinds) {
				return nil, fmt.Errorf("%w: %d redeclared with different indexes", ErrTypeExists, tbl.Type)
			}
			continue
		}
		r.types[tbl.Type] = kinds
	}

	r.docs.Add(code, &doc)
	return &doc, nil
}

// TypeOf resolves the type id of a table by its 64-bit name tag within a
// code account's loaded ABI. It implements the façade's TableTyper.
func (r *Registry) TypeOf(code, table uint64) (uint16, error) {
	doc, ok := r.docs.Get(code)
	if !ok {
		return 0, fmt.Errorf("%w: no abi loaded for code %d", ErrUnknownType, code)
	}
	for _, tbl := range doc.Tables {
		tag, err := StringToName(tbl.Name)
		if err != nil {
			continue
		}
		if tag == table {
			return tbl.Type, nil
		}
	}
	return 0, fmt.Errorf("%w: table %s not declared by code %d", ErrUnknownType, NameToString(table), code)
}

// Document returns the cached parsed document for a code account.
func (r *Registry) Document(code uint64) (*Document, bool) {
	return r.docs.Get(code)
}

func kindsEqual(a, b []keys.Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
