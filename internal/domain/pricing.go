package domain

import "time"

// CartTotal recomputes the cart total as the sum of price times quantity over all lines.
func CartTotal(items []CartItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// OrderTotal recomputes the order total from its revalidated line prices.
func OrderTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// RecalculateCart rewrites the derived total on the cart in place.
func RecalculateCart(cart *Cart) {
	if cart == nil {
		return
	}
	cart.TotalPrice = CartTotal(cart.Items)
}

// CloneCartItems returns an independent copy of the cart lines.
func CloneCartItems(items []CartItem) []CartItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}

// CloneOrder returns a deep copy so callers cannot mutate stored snapshots.
func CloneOrder(order Order) Order {
	clone := order
	if len(order.Items) > 0 {
		clone.Items = append([]OrderItem(nil), order.Items...)
	}
	if len(order.StatusHistory) > 0 {
		clone.StatusHistory = append([]OrderStatusChange(nil), order.StatusHistory...)
	}
	clone.ShippingAddress = order.ShippingAddress.Clone()
	clone.PaidAt = cloneTime(order.PaidAt)
	clone.ShippedAt = cloneTime(order.ShippedAt)
	clone.DeliveredAt = cloneTime(order.DeliveredAt)
	clone.CancelledAt = cloneTime(order.CancelledAt)
	return clone
}

// ClonePayment returns a deep copy of the payment record.
func ClonePayment(payment Payment) Payment {
	clone := payment
	if payment.RawResponse != nil {
		clone.RawResponse = make(map[string]any, len(payment.RawResponse))
		for k, v := range payment.RawResponse {
			clone.RawResponse[k] = v
		}
	}
	if len(payment.History) > 0 {
		clone.History = append([]PaymentStatusChange(nil), payment.History...)
	}
	return clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
