// Package manifest validates manifest.json documents from tune packages
// against a fixed JSON Schema and the cross-field fitment rule, and exposes
// the canonical serialization used for deterministic hashing.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "inmemory://manifest"

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": [
    "uploader_user_id",
    "listing_id",
    "version",
    "created_at",
    "supported_ecu",
    "bike_fitment",
    "requirements",
    "safety",
    "file"
  ],
  "properties": {
    "uploader_user_id": {"type": "string", "minLength": 1},
    "listing_id": {"type": "string", "minLength": 1},
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "created_at": {"type": "string", "format": "date-time"},
    "supported_ecu": {
      "type": "object",
      "required": ["ecu_family", "hw_ids"],
      "properties": {
        "ecu_family": {"type": "string", "minLength": 1},
        "hw_ids": {
          "type": "array",
          "items": {"type": "string", "minLength": 1},
          "minItems": 1
        },
        "sw_ids": {"type": "array", "items": {"type": "string"}},
        "cal_ids": {"type": "array", "items": {"type": "string"}}
      }
    },
    "bike_fitment": {
      "type": "object",
      "required": ["make", "model", "year_from", "year_to"],
      "properties": {
        "make": {"type": "string", "minLength": 1},
        "model": {"type": "string", "minLength": 1},
        "year_from": {"type": "integer", "minimum": 1990, "maximum": 2100},
        "year_to": {"type": "integer", "minimum": 1990, "maximum": 2100}
      }
    },
    "requirements": {
      "type": "object",
      "required": ["fuel_octane_min"],
      "properties": {
        "fuel_octane_min": {"type": "integer", "minimum": 87, "maximum": 110},
        "required_mods": {"type": "array", "items": {"type": "string"}},
        "warnings": {"type": "array", "items": {"type": "string"}}
      }
    },
    "safety": {
      "type": "object",
      "required": ["risk_level"],
      "properties": {
        "risk_level": {"type": "string", "enum": ["LOW", "MED", "HIGH"]},
        "known_limitations": {"type": "array", "items": {"type": "string"}}
      }
    },
    "file": {
      "type": "object",
      "required": ["tune_filename", "tune_size_bytes"],
      "properties": {
        "tune_filename": {"type": "string", "pattern": "^[a-zA-Z0-9_\\-]+\\.[a-zA-Z0-9]+$"},
        "tune_size_bytes": {"type": "integer", "minimum": 1, "maximum": 52428800}
      }
    }
  },
  "additionalProperties": false
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("add manifest schema resource: %v", err))
	}
	return c.MustCompile(schemaURL)
}

// Manifest is the typed view of a valid manifest.json, decoded for the
// pipeline's cross-checks against the binary and the owning listing.
type Manifest struct {
	UploaderUserID string       `json:"uploader_user_id"`
	ListingID      string       `json:"listing_id"`
	Version        string       `json:"version"`
	CreatedAt      string       `json:"created_at"`
	SupportedECU   SupportedECU `json:"supported_ecu"`
	BikeFitment    BikeFitment  `json:"bike_fitment"`
	Requirements   Requirements `json:"requirements"`
	Safety         Safety       `json:"safety"`
	File           FileMeta     `json:"file"`
}

type SupportedECU struct {
	ECUFamily string   `json:"ecu_family"`
	HWIDs     []string `json:"hw_ids"`
	SWIDs     []string `json:"sw_ids,omitempty"`
	CalIDs    []string `json:"cal_ids,omitempty"`
}

type BikeFitment struct {
	Make     string `json:"make"`
	Model    string `json:"model"`
	YearFrom int    `json:"year_from"`
	YearTo   int    `json:"year_to"`
}

type Requirements struct {
	FuelOctaneMin int      `json:"fuel_octane_min"`
	RequiredMods  []string `json:"required_mods,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

type Safety struct {
	RiskLevel        string   `json:"risk_level"`
	KnownLimitations []string `json:"known_limitations,omitempty"`
}

type FileMeta struct {
	TuneFilename  string `json:"tune_filename"`
	TuneSizeBytes int64  `json:"tune_size_bytes"`
}

// Validate parses data and validates it against the manifest schema plus
// the year-range rule. It returns every violation found, not just the
// first, so a publisher can fix a submission in one round trip. The typed
// Manifest is non-nil whenever the document parsed as JSON, even if
// validation failed.
func Validate(data []byte) (*Manifest, []string) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, []string{fmt.Sprintf("manifest is not valid JSON: %v", err)}
	}

	var errs []string
	if err := compiledSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			errs = flatten(ve, errs)
			sort.Strings(errs)
		} else {
			errs = append(errs, err.Error())
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		// Type mismatches are already reported by the schema pass.
		return nil, errs
	}

	// The year range rule is checked independently of the schema outcome
	// so an inverted range is always visible in the report.
	if m.BikeFitment.YearFrom != 0 && m.BikeFitment.YearTo != 0 &&
		m.BikeFitment.YearTo < m.BikeFitment.YearFrom {
		errs = append(errs, fmt.Sprintf("[/bike_fitment] year_to (%d) must be >= year_from (%d)",
			m.BikeFitment.YearTo, m.BikeFitment.YearFrom))
	}

	return &m, errs
}

// Canonicalize re-serializes a manifest document with sorted keys, compact
// separators, and no incidental whitespace, so the same logical manifest
// always hashes to the same digest.
func Canonicalize(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize manifest: %w", err)
	}
	return out, nil
}

// flatten collects the leaf causes of a validation error, each prefixed
// with its JSON Pointer instance location.
func flatten(ve *jsonschema.ValidationError, out []string) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "root"
		}
		return append(out, fmt.Sprintf("[%s] %s", loc, ve.Message))
	}
	for _, cause := range ve.Causes {
		out = flatten(cause, out)
	}
	return out
}
