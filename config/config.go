// Package config implements the config codec: decoding, validating, and
// defaulting the URL-embedded configuration blob.
//
// The codec is pure — it performs no I/O. Defaulting and legacy-format
// migration happen in one explicit builder pass that produces an
// immutable value, rather than mutating a config object in place after
// construction.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"

	"github.com/go-playground/validator/v10"

	"ratingproxy.app/pkg/models"
)

var validate = validator.New()

var regionRe = regexp.MustCompile(`^[A-Za-z]{2}$`)

// legacyFormat is the single-format-block shape some older config blobs
// still carry. Decode seeds both TitleFormat and DescriptionFormat from it
// when the new per-field blocks are absent.
type legacyFormat struct {
	Position        string   `json:"position"`
	Template        string   `json:"template"`
	Separator       string   `json:"separator"`
	ApplyToCatalog  *bool    `json:"applyToCatalog"`
	ApplyToEpisodes *bool    `json:"applyToEpisodes"`
	IncludeFlags    []string `json:"includeFlags"`
	OrderOfParts    []string `json:"orderOfParts"`
}

// wireConfig is the raw JSON shape decoded from the blob, kept separate
// from models.Config so unknown fields can be captured losslessly via
// json.RawMessage before validation/defaulting runs.
type wireConfig struct {
	UpstreamBaseURL   string               `json:"upstreamBaseURL"`
	DisplayName       string               `json:"displayName"`
	RatingsEnabled    *bool                `json:"ratingsEnabled"`
	InjectLocation    string               `json:"injectLocation"`
	TitleFormat       *models.FormatSpec   `json:"titleFormat"`
	DescriptionFormat *models.FormatSpec   `json:"descriptionFormat"`
	Format            *legacyFormat        `json:"format"`
	MetadataProvider  string               `json:"metadataProvider"`
	UserID            string               `json:"userId"`
	Region            string               `json:"region"`
}

// Decode base64url-decodes blob (padding optional), parses it as JSON, and
// produces a validated, defaulted Config. Errors are always a
// *models.Error with Kind ConfigDecode (malformed blob/JSON) or
// ConfigInvalid (a specific field failed validation).
func Decode(blob string) (models.Config, error) {
	raw, err := decodeBase64URL(blob)
	if err != nil {
		return models.Config{}, models.NewError(models.KindConfigDecode, fmt.Errorf("base64 decode: %w", err))
	}

	var extra map[string]json.RawMessage
	if err := json.Unmarshal(raw, &extra); err != nil {
		return models.Config{}, models.NewError(models.KindConfigDecode, fmt.Errorf("invalid JSON: %w", err))
	}

	var wc wireConfig
	if err := json.Unmarshal(raw, &wc); err != nil {
		return models.Config{}, models.NewError(models.KindConfigDecode, fmt.Errorf("invalid config shape: %w", err))
	}

	cfg, err := build(wc, knownFields(extra))
	if err != nil {
		return models.Config{}, err
	}
	return cfg, nil
}

// decodeBase64URL decodes s as unpadded (or padded) URL-safe base64.
func decodeBase64URL(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// knownFields strips the fields wireConfig already understands, leaving
// only the unrecognized ones to round-trip through Config.Extra.
func knownFields(all map[string]json.RawMessage) map[string]any {
	known := map[string]bool{
		"upstreamBaseURL": true, "displayName": true, "ratingsEnabled": true,
		"injectLocation": true, "titleFormat": true, "descriptionFormat": true,
		"format": true, "metadataProvider": true, "userId": true, "region": true,
	}
	out := make(map[string]any)
	for k, v := range all {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			out[k] = val
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func build(wc wireConfig, extra map[string]any) (models.Config, error) {
	if wc.UpstreamBaseURL == "" {
		return models.Config{}, models.NewFieldError("upstreamBaseURL", fmt.Errorf("required"))
	}
	u, err := url.Parse(wc.UpstreamBaseURL)
	if err != nil || !u.IsAbs() {
		return models.Config{}, models.NewFieldError("upstreamBaseURL", fmt.Errorf("must be an absolute URL"))
	}

	titleFmt, descFmt := resolveFormats(wc)
	if err := validateFormat("titleFormat", titleFmt); err != nil {
		return models.Config{}, err
	}
	if err := validateFormat("descriptionFormat", descFmt); err != nil {
		return models.Config{}, err
	}
	titleFmt.OrderOfParts = normalizeOrderOfParts(titleFmt.OrderOfParts)
	descFmt.OrderOfParts = normalizeOrderOfParts(descFmt.OrderOfParts)

	region := wc.Region
	if region == "" {
		region = "US"
	}
	if !regionRe.MatchString(region) {
		return models.Config{}, models.NewFieldError("region", fmt.Errorf("must be a 2-letter code"))
	}

	injectLoc := models.InjectLocation(wc.InjectLocation)
	switch injectLoc {
	case models.InjectTitle, models.InjectDescription, models.InjectBoth:
	case "":
		injectLoc = models.InjectBoth
	default:
		return models.Config{}, models.NewFieldError("injectLocation", fmt.Errorf("must be one of title, description, both"))
	}

	ratingsEnabled := true
	if wc.RatingsEnabled != nil {
		ratingsEnabled = *wc.RatingsEnabled
	}

	cfg := models.Config{
		UpstreamBaseURL:   wc.UpstreamBaseURL,
		DisplayName:       wc.DisplayName,
		RatingsEnabled:    ratingsEnabled,
		InjectLocation:    injectLoc,
		TitleFormat:       titleFmt,
		DescriptionFormat: descFmt,
		MetadataProvider:  wc.MetadataProvider,
		UserID:            wc.UserID,
		Region:            region,
		Extra:             extra,
	}

	if err := validate.Struct(cfg); err != nil {
		return models.Config{}, models.NewError(models.KindConfigInvalid, err)
	}
	return cfg, nil
}

// resolveFormats applies the legacy single-format-block migration: if
// only `format` is present, it seeds both TitleFormat and
// DescriptionFormat.
func resolveFormats(wc wireConfig) (models.FormatSpec, models.FormatSpec) {
	var title, desc models.FormatSpec
	if wc.TitleFormat != nil {
		title = *wc.TitleFormat
	}
	if wc.DescriptionFormat != nil {
		desc = *wc.DescriptionFormat
	}

	if wc.TitleFormat == nil && wc.DescriptionFormat == nil && wc.Format != nil {
		seeded := models.FormatSpec{
			Position:     models.Position(wc.Format.Position),
			Template:     wc.Format.Template,
			Separator:    wc.Format.Separator,
			IncludeFlags: wc.Format.IncludeFlags,
			OrderOfParts: wc.Format.OrderOfParts,
		}
		if wc.Format.ApplyToCatalog != nil {
			seeded.ApplyToCatalog = *wc.Format.ApplyToCatalog
		} else {
			seeded.ApplyToCatalog = true
		}
		if wc.Format.ApplyToEpisodes != nil {
			seeded.ApplyToEpisodes = *wc.Format.ApplyToEpisodes
		} else {
			seeded.ApplyToEpisodes = true
		}
		title, desc = seeded, seeded
	}

	if title.Position == "" {
		title.Position = models.PositionPrefix
	}
	if desc.Position == "" {
		desc.Position = models.PositionSuffix
	}
	if title.Template == "" {
		title.Template = "★ {rating}"
	}
	if desc.Template == "" {
		desc.Template = "{rating}"
	}
	return title, desc
}

func validateFormat(field string, f models.FormatSpec) error {
	switch f.Position {
	case models.PositionPrefix, models.PositionSuffix:
	default:
		return models.NewFieldError(field+".position", fmt.Errorf("must be prefix or suffix"))
	}
	return nil
}

// normalizeOrderOfParts drops unrecognized part names and appends any
// known part missing from the explicit order, in models.KnownParts order.
func normalizeOrderOfParts(order []string) []string {
	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(models.KnownParts))
	known := make(map[string]bool, len(models.KnownParts))
	for _, p := range models.KnownParts {
		known[p] = true
	}
	for _, p := range order {
		if known[p] && !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	for _, p := range models.KnownParts {
		if !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	return out
}
