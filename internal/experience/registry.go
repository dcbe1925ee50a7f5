// Package experience maps gift records onto their product experience.
package experience

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
)

const (
	environmentProduction = "production"
	viewerPathPrefix      = "/v/"
)

// Detail is one label/value line of a record summary.
type Detail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Descriptor describes how a category is set up and displayed.
type Descriptor struct {
	ID            gifts.Category
	Label         string
	SetupRequired bool

	registry *Registry
}

// Config controls how viewer links are built.
type Config struct {
	Environment string
	BaseDomain  string
}

// Registry resolves records to descriptors. Resolution is total: every
// record, including nil, maps to exactly one descriptor.
type Registry struct {
	environment string
	baseDomain  string
	descriptors map[gifts.Category]Descriptor
}

// NewRegistry builds the registry with the four known experiences.
func NewRegistry(cfg Config) *Registry {
	registry := &Registry{
		environment: strings.ToLower(strings.TrimSpace(cfg.Environment)),
		baseDomain:  strings.Trim(strings.TrimSpace(cfg.BaseDomain), "."),
	}
	registry.descriptors = map[gifts.Category]Descriptor{
		gifts.CategoryMug:      {ID: gifts.CategoryMug, Label: "Tasse personnalisée", SetupRequired: true, registry: registry},
		gifts.CategoryBracelet: {ID: gifts.CategoryBracelet, Label: "Bracelet gravé", SetupRequired: false, registry: registry},
		gifts.CategoryMemoria:  {ID: gifts.CategoryMemoria, Label: "Memoria", SetupRequired: true, registry: registry},
		gifts.CategoryNoor:     {ID: gifts.CategoryNoor, Label: "Noor", SetupRequired: false, registry: registry},
	}
	return registry
}

// Resolve returns the descriptor for a record.
func (r *Registry) Resolve(record *gifts.Record) Descriptor {
	if record == nil {
		return r.descriptorFor(gifts.CategoryMug)
	}
	return r.descriptorFor(record.Category())
}

// SetupRequired reports whether the category needs the customer setup step.
func (r *Registry) SetupRequired(project, productType string) bool {
	return r.descriptorFor(gifts.ResolveCategory(project, productType)).SetupRequired
}

// Descriptors lists every known experience in a stable order.
func (r *Registry) Descriptors() []Descriptor {
	return []Descriptor{
		r.descriptorFor(gifts.CategoryMug),
		r.descriptorFor(gifts.CategoryBracelet),
		r.descriptorFor(gifts.CategoryMemoria),
		r.descriptorFor(gifts.CategoryNoor),
	}
}

func (r *Registry) descriptorFor(category gifts.Category) Descriptor {
	switch category {
	case gifts.CategoryMug, gifts.CategoryBracelet, gifts.CategoryMemoria, gifts.CategoryNoor:
		return r.descriptors[category]
	default:
		return r.descriptors[gifts.CategoryMug]
	}
}

// Subdomain is the production host serving the experience.
func (d Descriptor) Subdomain() string {
	if d.registry == nil || d.registry.baseDomain == "" {
		return ""
	}
	return fmt.Sprintf("%s.%s", d.ID, d.registry.baseDomain)
}

// ViewerURL is the link a recipient opens: relative outside production,
// absolute on the category subdomain in production.
func (d Descriptor) ViewerURL(record gifts.Record) string {
	path := viewerPathPrefix + url.PathEscape(record.ID)
	if d.registry == nil || d.registry.environment != environmentProduction || d.registry.baseDomain == "" {
		return path
	}
	return "https://" + d.Subdomain() + path
}

// RenderDetails lists the category fields worth showing for a record.
func (d Descriptor) RenderDetails(record gifts.Record) []Detail {
	details := []Detail{{Label: "Produit", Value: d.Label}}
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			details = append(details, Detail{Label: label, Value: value})
		}
	}
	add("Destinataire", record.RecipientName)
	add("De la part de", record.SenderName)

	switch variant := record.Details().(type) {
	case gifts.MugDetails:
		add("Gravure", variant.EngravingText)
		add("Visuel", variant.DesignImage)
	case gifts.BraceletDetails:
		add("Gravure", variant.EngravingText)
	case gifts.MemoriaDetails:
		add("Défunt", variant.DeceasedName)
		add("Dates", variant.LifeDates)
	case gifts.NoorDetails:
		add("Titre", variant.Title)
		add("Texte arabe", variant.ArabicText)
		add("Audio", variant.AudioURL)
		add("Signification", variant.MeaningText)
		add("Audio de la signification", variant.MeaningAudioURL)
	}
	if len(record.Messages) > 0 {
		details = append(details, Detail{Label: "Messages", Value: fmt.Sprintf("%d", len(record.Messages))})
	}
	if len(record.AlbumImages) > 0 {
		details = append(details, Detail{Label: "Photos", Value: fmt.Sprintf("%d", len(record.AlbumImages))})
	}
	return details
}
