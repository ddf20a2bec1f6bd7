// Package keys implements the key builder: pure functions producing
// cache keys per the key schema, plus the TTL selectors that inspect a
// catalog id and a config's user-specificity.
//
// configHash canonicalizes the config by recursively sorting map keys
// while preserving slice order, so two configs that differ only in field
// order or map iteration produce the same hash. urlHash hashes only the
// upstream base URL, independent of display options, so changing a
// cosmetic setting doesn't invalidate every cached entry for a user.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"ratingproxy.app/pkg/models"
)

// TTL tiers selected by CatalogTTL / per-key TTL selection.
const (
	TTLShort        = 2 * time.Minute
	TTLDefault      = 6 * time.Hour
	TTLLong         = 24 * time.Hour
	TTLUserSpecific = 30 * time.Second
)

// join builds a colon-separated key, dropping trailing empty segments.
func join(parts ...string) string {
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ":")
}

// ConfigHash returns the first 16 hex chars of SHA-256 over the
// canonicalized config. Two structurally equal configs with different
// field orderings produce the same hash, since JSON struct field order is
// fixed by Go's encoder and nested maps are recursively key-sorted before
// hashing.
func ConfigHash(c models.Config) string {
	canon := canonicalize(c)
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:16]
}

// URLHash returns the first 12 hex chars of SHA-256 over the upstream
// base URL alone.
func URLHash(upstreamBaseURL string) string {
	sum := sha256.Sum256([]byte(upstreamBaseURL))
	return hex.EncodeToString(sum[:])[:12]
}

// canonicalize produces a deterministic byte representation of c: encode
// to JSON, decode into a generic tree, recursively sort map keys
// (preserving slice/array order), and re-encode.
func canonicalize(c models.Config) []byte {
	raw, _ := json.Marshal(c)
	var generic any
	_ = json.Unmarshal(raw, &generic)
	sorted := sortKeys(generic)
	out, _ := json.Marshal(sorted)
	return out
}

// sortKeys recursively rewrites maps into sortedMap (which marshals keys
// in sorted order) while leaving slice element order untouched.
func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sm := make(sortedMap, 0, len(t))
		for _, k := range keys {
			sm = append(sm, sortedEntry{k, sortKeys(t[k])})
		}
		return sm
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return t
	}
}

type sortedEntry struct {
	key   string
	value any
}

// sortedMap marshals as a JSON object with keys emitted in the order
// they were appended (already sorted by sortKeys).
type sortedMap []sortedEntry

func (m sortedMap) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			b.WriteByte(',')
		}
		k, _ := json.Marshal(e.key)
		v, err := json.Marshal(e.value)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// CatalogParams are the optional, position-dependent parts of a catalog
// key (page/search/genre/userId), dropped from the right when empty.
type CatalogParams struct {
	Page   string
	Search string
	Genre  string
	UserID string
}

// FormattedCatalog builds v{V}:catalog:{configHash}:{type}:{catalogId}[...].
func FormattedCatalog(version int, cfg models.Config, catalogType, catalogID string, p CatalogParams) string {
	return join(verPrefix(version), "catalog", ConfigHash(cfg), catalogType, catalogID, p.Page, p.Search, p.Genre, p.UserID)
}

// RawCatalog builds v{V}:raw:catalog:{urlHash}:{type}:{catalogId}[...],
// independent of display/format options.
func RawCatalog(version int, upstreamBaseURL, catalogType, catalogID string, p CatalogParams) string {
	return join(verPrefix(version), "raw", "catalog", URLHash(upstreamBaseURL), catalogType, catalogID, p.Page, p.Search, p.Genre, p.UserID)
}

// FormattedMeta builds v{V}:meta:{configHash}:{type}:{id}.
func FormattedMeta(version int, cfg models.Config, itemType, id string) string {
	return join(verPrefix(version), "meta", ConfigHash(cfg), itemType, id)
}

// RawMeta builds v{V}:raw:meta:{urlHash}:{type}:{id}.
func RawMeta(version int, upstreamBaseURL, itemType, id string) string {
	return join(verPrefix(version), "raw", "meta", URLHash(upstreamBaseURL), itemType, id)
}

// FormattedManifest builds v{V}:manifest:{configHash}.
func FormattedManifest(version int, cfg models.Config) string {
	return join(verPrefix(version), "manifest", ConfigHash(cfg))
}

// RawManifest builds v{V}:raw:manifest:{urlHash}.
func RawManifest(version int, upstreamBaseURL string) string {
	return join(verPrefix(version), "raw", "manifest", URLHash(upstreamBaseURL))
}

// PerSourceData builds v{V}:data:{source}:{itemId}[:{region}].
func PerSourceData(version int, source, itemID, region string) string {
	return join(verPrefix(version), "data", source, itemID, region)
}

// PerSourceRating builds v{V}:rating:{source}:{itemId}[:{region}].
func PerSourceRating(version int, source, itemID, region string) string {
	return join(verPrefix(version), "rating", source, itemID, region)
}

// ConsolidatedRating builds v{V}:rating:consolidated:{itemId}.
func ConsolidatedRating(version int, itemID string) string {
	return join(verPrefix(version), "rating", "consolidated", itemID)
}

// RateLimitWindow builds ratelimit:v{V}:{tier}:{identity}.
func RateLimitWindow(version int, tier, identity string) string {
	return join("ratelimit", verPrefix(version), tier, identity)
}

// HotKeyBucket builds hotkeys:{minuteBucket}.
func HotKeyBucket(minuteBucket int64) string {
	return join("hotkeys", strconv.FormatInt(minuteBucket, 10))
}

func verPrefix(v int) string { return "v" + strconv.Itoa(v) }

// CatalogTTL selects the TTL tier for a catalog request: a search-type
// catalog id gets the short TTL, popular/trending/top-style ids get the
// long TTL, user-specific add-ons get the shortest TTL, and everything
// else gets the default.
func CatalogTTL(catalogID string, isUserSpecific bool) time.Duration {
	if isUserSpecific {
		return TTLUserSpecific
	}
	lower := strings.ToLower(catalogID)
	switch {
	case strings.HasPrefix(lower, "search"):
		return TTLShort
	case strings.HasPrefix(lower, "popular"), strings.HasPrefix(lower, "trending"), strings.HasPrefix(lower, "top"):
		return TTLLong
	default:
		return TTLDefault
	}
}

// IsSearchRoute reports whether a route counts as "search" for rate
// limiter tiering: the catalog id contains "search" or a query parameter
// named "search" is present.
func IsSearchRoute(catalogID string, queryHasSearch bool) bool {
	return strings.Contains(strings.ToLower(catalogID), "search") || queryHasSearch
}
