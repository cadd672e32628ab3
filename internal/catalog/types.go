// Package catalog reads the public oil resource list from the backend API.
package catalog

// OilType is the product category of an oil resource.
type OilType string

const (
	OilTypePetrol OilType = "PETROL"
	OilTypeDiesel OilType = "DIESEL"
	OilTypeCrude  OilType = "CRUDE"
)

// OilResource is one entry of the backend's oil list.
type OilResource struct {
	ID             string  `json:"id"`
	Date           string  `json:"date"`
	Price          float64 `json:"price"`
	Type           OilType `json:"type"`
	OilDocumentURL *string `json:"oil_document_url,omitempty"`
	UserID         *string `json:"userId,omitempty"`
	Email          *string `json:"email,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// Page is one cursor page of oil resources. Absent cursors are null.
type Page struct {
	Items          []OilResource `json:"items"`
	NextCursor     *string       `json:"next_cursor"`
	PreviousCursor *string       `json:"previous_cursor"`
}

// backendPage is the list payload as the backend sends it. Older backends
// name the cursors next_page and previous_page.
type backendPage struct {
	Items          []OilResource `json:"items"`
	NextCursor     *string       `json:"next_cursor"`
	PreviousCursor *string       `json:"previous_cursor"`
	NextPage       *string       `json:"next_page"`
	PreviousPage   *string       `json:"previous_page"`
}

func (p backendPage) normalize() *Page {
	items := p.Items
	if items == nil {
		items = []OilResource{}
	}
	return &Page{
		Items:          items,
		NextCursor:     firstCursor(p.NextCursor, p.NextPage),
		PreviousCursor: firstCursor(p.PreviousCursor, p.PreviousPage),
	}
}

// firstCursor returns the first non-empty cursor, or nil.
func firstCursor(candidates ...*string) *string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			v := *c
			return &v
		}
	}
	return nil
}
