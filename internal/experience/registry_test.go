package experience

import (
	"testing"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
)

func TestResolveIsTotal(t *testing.T) {
	registry := NewRegistry(Config{Environment: "development"})
	testCases := []struct {
		name     string
		record   *gifts.Record
		expected gifts.Category
	}{
		{name: "nil", record: nil, expected: gifts.CategoryMug},
		{name: "empty", record: &gifts.Record{}, expected: gifts.CategoryMug},
		{name: "noor", record: &gifts.Record{Project: "noor"}, expected: gifts.CategoryNoor},
		{name: "bracelet", record: &gifts.Record{ProductType: "bracelet"}, expected: gifts.CategoryBracelet},
		{name: "memoria", record: &gifts.Record{Project: "memoria"}, expected: gifts.CategoryMemoria},
		{name: "project wins", record: &gifts.Record{Project: "memoria", ProductType: "bracelet"}, expected: gifts.CategoryMemoria},
		{name: "unknown", record: &gifts.Record{Project: "poster"}, expected: gifts.CategoryMug},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			descriptor := registry.Resolve(testCase.record)
			if descriptor.ID != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, descriptor.ID)
			}
			if descriptor.Label == "" {
				t.Fatalf("expected a label")
			}
		})
	}
}

func TestSetupRequired(t *testing.T) {
	registry := NewRegistry(Config{})
	if !registry.SetupRequired("tasse", "") || !registry.SetupRequired("memoria", "") {
		t.Fatalf("expected mug and memoria to need setup")
	}
	if registry.SetupRequired("", "bracelet") || registry.SetupRequired("noor", "") {
		t.Fatalf("expected bracelet and noor to skip setup")
	}
}

func TestViewerURLByEnvironment(t *testing.T) {
	record := gifts.Record{ID: "gift-1", Project: "noor"}

	development := NewRegistry(Config{Environment: "development", BaseDomain: "keepsake.example"})
	if url := development.Resolve(&record).ViewerURL(record); url != "/v/gift-1" {
		t.Fatalf("unexpected development url %q", url)
	}
	staging := NewRegistry(Config{Environment: "staging", BaseDomain: "keepsake.example"})
	if url := staging.Resolve(&record).ViewerURL(record); url != "/v/gift-1" {
		t.Fatalf("unexpected staging url %q", url)
	}
	production := NewRegistry(Config{Environment: "production", BaseDomain: "keepsake.example"})
	if url := production.Resolve(&record).ViewerURL(record); url != "https://noor.keepsake.example/v/gift-1" {
		t.Fatalf("unexpected production url %q", url)
	}
}

func TestRenderDetailsUsesCategoryFields(t *testing.T) {
	registry := NewRegistry(Config{})
	record := gifts.Record{Project: "memoria", RecipientName: "Famille Haddad", DeceasedName: "Omar", LifeDates: "1950 - 2020", EngravingText: "ignored"}

	details := registry.Resolve(&record).RenderDetails(record)
	labels := map[string]string{}
	for _, detail := range details {
		labels[detail.Label] = detail.Value
	}
	if labels["Produit"] != "Memoria" || labels["Défunt"] != "Omar" || labels["Dates"] != "1950 - 2020" {
		t.Fatalf("unexpected details %#v", details)
	}
	if _, ok := labels["Gravure"]; ok {
		t.Fatalf("expected engraving to be omitted for memoria")
	}
}
