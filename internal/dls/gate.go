package dls

import (
	"github.com/dls-engine/go-core/internal/filter"
	"github.com/dls-engine/go-core/pkg/types"
)

// Visible evaluates the effective filter directly against a fetched document.
// This is the enforcement point for point-lookup requests (get, multi-get,
// term vectors): the storage fetch runs unfiltered, then the gate decides
// whether the document exists for this principal.
//
// Callers must report a gated document exactly as a genuinely absent one.
func Visible(doc *types.Document, ef EffectiveFilter) bool {
	if doc == nil {
		return false
	}

	switch ef.Kind() {
	case Unrestricted:
		return true
	case DenyAll:
		return false
	default:
		return filter.Matches(ef.Query(), doc)
	}
}
