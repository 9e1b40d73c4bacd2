package domain

// CartItem is a single line of a cart snapshot.
type CartItem struct {
	ProductID  string `json:"product_id"`
	CategoryID string `json:"category_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"` // minor units
}

// LineTotal returns the undiscounted total for the line in minor units.
func (i *CartItem) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// Cart is the snapshot of a customer's cart handed to the engine. It is
// transient and owned by the request that computed it until the reservation
// coordinator commits the chosen promotions.
type Cart struct {
	CustomerID       string     `json:"customer_id"`
	Items            []CartItem `json:"items"`
	VoucherCodes     []string   `json:"voucher_codes"`
	ShippingLocation string     `json:"shipping_location,omitempty"`
	ShippingFee      int64      `json:"shipping_fee"` // quoted by an external shipping service
}

// Subtotal returns the undiscounted sum of all lines in minor units.
func (c *Cart) Subtotal() int64 {
	var total int64
	for i := range c.Items {
		total += c.Items[i].LineTotal()
	}
	return total
}

// EnteredCode reports whether the customer entered the given normalized code.
func (c *Cart) EnteredCode(code string) bool {
	for _, entered := range c.VoucherCodes {
		if NormalizeCode(entered) == code {
			return true
		}
	}
	return false
}

// HasCategory reports whether any cart line belongs to the given category.
func (c *Cart) HasCategory(categoryID string) bool {
	for i := range c.Items {
		if c.Items[i].CategoryID == categoryID {
			return true
		}
	}
	return false
}
