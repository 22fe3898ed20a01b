// services/metadata.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	shell "github.com/ipfs/go-ipfs-api"
)

// Attribute is one Metaplex-style trait. Value may be a string or a number.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

func (a Attribute) String() string {
	switch v := a.Value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// AttributeSource returns the static attributes of an NFT.
type AttributeSource interface {
	Attributes(ctx context.Context, mint string) ([]Attribute, error)
}

const maxMetadataSize = 64 << 10

// IPFSAttributeSource reads <collectionCID>/<mint>.json through an IPFS
// API node. Metadata is immutable once pinned, so results are cached.
type IPFSAttributeSource struct {
	sh    *shell.Shell
	root  string
	cache *lru.Cache
}

func NewIPFSAttributeSource(apiURL, collectionCID string, cacheSize int) (*IPFSAttributeSource, error) {
	if apiURL == "" || collectionCID == "" {
		return nil, errors.New("ipfs api url and collection cid are required")
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &IPFSAttributeSource{
		sh:    shell.NewShell(apiURL),
		root:  "/ipfs/" + collectionCID,
		cache: cache,
	}, nil
}

func (s *IPFSAttributeSource) Attributes(ctx context.Context, mint string) ([]Attribute, error) {
	if v, ok := s.cache.Get(mint); ok {
		return v.([]Attribute), nil
	}

	resp, err := s.sh.Request("cat", s.root+"/"+mint+".json").Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for %s: %w", mint, err)
	}
	defer resp.Close()
	if resp.Error != nil {
		return nil, fmt.Errorf("fetch metadata for %s: %w", mint, resp.Error)
	}

	var doc struct {
		Attributes []Attribute `json:"attributes"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Output, maxMetadataSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", mint, err)
	}
	s.cache.Add(mint, doc.Attributes)
	return doc.Attributes, nil
}

// StaticAttributeSource serves attributes from memory.
type StaticAttributeSource struct {
	mu    sync.RWMutex
	attrs map[string][]Attribute
}

func NewStaticAttributeSource() *StaticAttributeSource {
	return &StaticAttributeSource{attrs: make(map[string][]Attribute)}
}

func (s *StaticAttributeSource) Set(mint string, attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[mint] = attrs
}

func (s *StaticAttributeSource) Attributes(ctx context.Context, mint string) ([]Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs, ok := s.attrs[mint]
	if !ok {
		return nil, fmt.Errorf("%w: metadata for %s", ErrNotFound, mint)
	}
	return attrs, nil
}
