// Package memory provides a deterministic in-process source for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

// Source synthesizes posts from a fixed catalog. The same seed and source
// name always yield the same items, so jobs against it are reproducible.
type Source struct {
	seed int64
	now  func() time.Time
}

// NewSource constructs a Source with the given seed.
func NewSource(seed int64) *Source {
	return &Source{seed: seed, now: time.Now}
}

var catalog = []struct {
	title  string
	text   string
	author string
}{
	{"WTS sporting goods", "selling my hiking boots and an old tent, barely used, pickup only", "outdoorsdeals"},
	{"glock 19 for sale", "want to sell glock 19 gen 5, cash only, no paperwork, dm me", "ghostvendor"},
	{"camera gear cleanout", "canon body plus two lenses, looking for offers this weekend", "shutterbug"},
	{"ar15 parts kit", "ar15 lower and full parts kit, no questions asked, shipping anywhere", "partsrunner"},
	{"free couch", "free couch if you can pick it up today, some wear on the arms", "moveout22"},
	{"looking for ammo", "looking to buy ammo in bulk, 9mm preferred, will pay cash", "rangeday"},
	{"guitar lessons", "offering beginner guitar lessons, first session free", "stringteacher"},
	{"untraceable piece", "brand new piece, serial removed, untraceable, serious buyers only", "cleanslate"},
}

// Fetch returns up to limit synthetic items for the named source.
func (s *Source) Fetch(ctx context.Context, source string, limit int) ([]pipeline.RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	if limit > len(catalog) {
		limit = len(catalog)
	}

	rng := rand.New(rand.NewSource(s.seed + sourceOffset(source)))
	order := rng.Perm(len(catalog))

	items := make([]pipeline.RawItem, 0, limit)
	base := s.now().Add(-time.Duration(limit) * time.Minute)
	for i := 0; i < limit; i++ {
		entry := catalog[order[i]]
		items = append(items, pipeline.RawItem{
			ID:     fmt.Sprintf("%s-%d", source, order[i]),
			Title:  entry.title,
			Text:   entry.text,
			Source: source,
			Author: entry.author,
			Posted: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return items, nil
}

func sourceOffset(source string) int64 {
	h := fnv.New64a()
	h.Write([]byte(source))
	return int64(h.Sum64() % (1 << 32))
}
