package pricing

import "strings"

// Trouser sub-categories. Trousers are the only section priced by style.
const (
	CategoryTrouserFormal = "Trouser-Formal"
	CategoryTrouserCasual = "Trouser-Casual"
)

// Item carries the catalog attributes the engine needs from a scanned product.
type Item struct {
	SKU     string `json:"sku"`
	Name    string `json:"name"`
	Section string `json:"section"`
	Style   string `json:"style"`
}

// ResolveCategory maps an item to the category key used for rule lookup.
func ResolveCategory(item Item) string {
	if strings.EqualFold(item.Section, "trouser") {
		if strings.EqualFold(item.Style, "formal") {
			return CategoryTrouserFormal
		}
		return CategoryTrouserCasual
	}
	return item.Section
}
