package allegro

// Item is a single listing from the Allegro search response. Identity is
// ID; everything else is descriptive snapshot data.
type Item struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	SellingMode SellingMode `json:"sellingMode"`
}

// SellingMode holds the sale format and price of a listing.
type SellingMode struct {
	Format string `json:"format"` // BUY_NOW, AUCTION, ADVERTISEMENT
	Price  Price  `json:"price"`
}

// Price holds an amount and its currency. Amounts stay strings; the API
// sends decimal strings and nothing here does arithmetic on them.
type Price struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}
