package domain

// Product is the slice of the catalog this core needs. Tracked products count
// stock unit by unit; untracked ones carry at most one placeholder unit.
type Product struct {
	ID      string `db:"id"`
	SKU     string `db:"sku"`
	Tracked bool   `db:"tracked"`
}
