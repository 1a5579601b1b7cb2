package model

// Order is the projection of an order owned by the order subsystem.
type Order struct {
	ID         string     `json:"id"`
	BuyerID    string     `json:"buyer_id"`
	BuyerName  string     `json:"buyer_name"`
	BuyerPhone string     `json:"buyer_phone"`
	Items      []LineItem `json:"items"`
}

type LineItem struct {
	ProductName string `json:"product_name"`
	Physical    bool   `json:"physical"`
}

// PhysicalProductName returns the names of the physical line items joined for display,
// and false when the order has nothing to hand over.
func (o *Order) PhysicalProductName() (string, bool) {
	name := ""
	found := false
	for _, item := range o.Items {
		if !item.Physical {
			continue
		}
		if found {
			name += ", "
		}
		name += item.ProductName
		found = true
	}
	return name, found
}
