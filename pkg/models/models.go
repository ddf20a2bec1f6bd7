// Package models holds the data types shared across the rating proxy's
// services: the decoded per-request configuration, provider results, and
// the sum-typed error kind used at every I/O boundary.
package models

import (
	"fmt"
	"time"
)

// InjectLocation selects where the rating is spliced into an item.
type InjectLocation string

const (
	InjectTitle       InjectLocation = "title"
	InjectDescription InjectLocation = "description"
	InjectBoth        InjectLocation = "both"
)

// Position selects whether the rendered rating is prepended or appended.
type Position string

const (
	PositionPrefix Position = "prefix"
	PositionSuffix Position = "suffix"
)

// FormatSpec describes how a rating is rendered and spliced into a field.
type FormatSpec struct {
	Position        Position `json:"position"`
	Template        string   `json:"template"`
	Separator       string   `json:"separator"`
	ApplyToCatalog  bool     `json:"applyToCatalog"`
	ApplyToEpisodes bool     `json:"applyToEpisodes"`
	IncludeFlags    []string `json:"includeFlags,omitempty"`
	OrderOfParts    []string `json:"orderOfParts,omitempty"`
}

// KnownParts is the full set of recognized description metadata parts, in
// their default order. Order is otherwise taken verbatim from the config;
// unknown entries are dropped and any missing known part is appended in
// this order.
var KnownParts = []string{"rating", "votes", "certification", "secondary", "release", "streaming"}

// Config is the immutable, validated, per-request configuration decoded
// from the URL config blob. Once constructed it is never mutated.
type Config struct {
	UpstreamBaseURL   string         `json:"upstreamBaseURL" validate:"required,url"`
	DisplayName       string         `json:"displayName"`
	RatingsEnabled    bool           `json:"ratingsEnabled"`
	InjectLocation    InjectLocation `json:"injectLocation" validate:"oneof=title description both"`
	TitleFormat       FormatSpec     `json:"titleFormat" validate:"dive"`
	DescriptionFormat FormatSpec     `json:"descriptionFormat" validate:"dive"`
	MetadataProvider  string         `json:"metadataProvider"`
	UserID            string         `json:"userId,omitempty"`
	Region            string         `json:"region" validate:"len=2,alpha"`

	// Extra carries any unrecognized top-level fields verbatim, so they
	// round-trip through decode without being silently dropped.
	Extra map[string]any `json:"-"`
}

// IsUserSpecific reports whether this config is bound to a single user's
// add-on instance, which selects the shortest cache TTL tier.
func (c Config) IsUserSpecific() bool {
	return c.UserID != ""
}

// Kind is the sum-typed error category used at every I/O boundary. A
// handler performs exactly one conversion from Kind to HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindConfigInvalid
	KindConfigDecode
	KindUpstreamTimeout
	KindUpstreamClient
	KindUpstreamServer
	KindCacheUnavailable
	KindProviderUnavailable
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindConfigDecode:
		return "ConfigDecode"
	case KindUpstreamTimeout:
		return "UpstreamTimeout"
	case KindUpstreamClient:
		return "UpstreamClient"
	case KindUpstreamServer:
		return "UpstreamServer"
	case KindCacheUnavailable:
		return "CacheUnavailable"
	case KindProviderUnavailable:
		return "ProviderUnavailable"
	case KindRateLimited:
		return "RateLimited"
	default:
		return "Internal"
	}
}

// Error is the sum-typed error value carried across component boundaries.
// Code carries the upstream HTTP status for UpstreamClient/UpstreamServer.
type Error struct {
	Kind  Kind
	Code  int
	Field string // set for ConfigInvalid
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Field, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("%s(%d): %v", e.Kind, e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error, wrapping a plain error with a Kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewFieldError builds a ConfigInvalid error naming the offending field.
func NewFieldError(field string, err error) *Error {
	return &Error{Kind: KindConfigInvalid, Field: field, Err: err}
}

// NewUpstreamError classifies an upstream HTTP status into the right Kind.
func NewUpstreamError(code int, err error) *Error {
	kind := KindUpstreamServer
	if code >= 400 && code < 500 {
		kind = KindUpstreamClient
	}
	return &Error{Kind: kind, Code: code, Err: err}
}

// AsError extracts an *Error from a wrapped error chain, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	if err == nil {
		return nil, false
	}
	if ee, ok := err.(*Error); ok {
		return ee, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return AsError(u.Unwrap())
	}
	return nil, false
}

// ProviderData is the normalized result of a single rating provider
// lookup for one item. A nil *ProviderData return from a provider means
// "no data available" and is distinct from a transport error.
type ProviderData struct {
	Source      string  `json:"source"`
	Score       float64 `json:"score"`
	Scale       float64 `json:"scale"` // the provider's native max scale (10 or 100)
	VoteCount   int     `json:"voteCount,omitempty"`
	Certification string `json:"certification,omitempty"`
	ReleaseDate string  `json:"releaseDate,omitempty"`
	Streaming   []string `json:"streaming,omitempty"`
}

// Band is one of six rating severity tiers.
type Band string

const (
	BandExcellent Band = "excellent"
	BandGreat     Band = "great"
	BandGood      Band = "good"
	BandOkay      Band = "okay"
	BandMediocre  Band = "mediocre"
	BandPoor      Band = "poor"
)

// ConsolidatedRating is the output of combining up to four provider
// sources for one item.
type ConsolidatedRating struct {
	Score       float64            `json:"score"`
	SourceCount int                `json:"sourceCount"`
	PerSource   map[string]float64 `json:"perSource"`
	Band        Band               `json:"band"`
	ComputedAt  time.Time          `json:"computedAt"`

	VoteCount     int      `json:"voteCount,omitempty"`
	Certification string   `json:"certification,omitempty"`
	ReleaseDate   string   `json:"releaseDate,omitempty"`
	Streaming     []string `json:"streaming,omitempty"`
}

// BandFor assigns the color band for a consolidated score.
func BandFor(score float64) Band {
	switch {
	case score >= 9.0:
		return BandExcellent
	case score >= 8.0:
		return BandGreat
	case score >= 7.0:
		return BandGood
	case score >= 6.0:
		return BandOkay
	case score >= 5.0:
		return BandMediocre
	default:
		return BandPoor
	}
}
