package line

import "time"

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in_progress"
	OrderCompleted  OrderStatus = "completed"
)

// Order is one manufacturing order. Orders are serviced strictly in list
// order; the line is single-lane and cannot multiplex.
type Order struct {
	ID               string      `json:"id" yaml:"id"`
	Product          string      `json:"product" yaml:"product"`
	QuantityRequired int         `json:"quantity_required" yaml:"quantity_required"`
	QuantityProduced int         `json:"quantity_produced" yaml:"quantity_produced"`
	Status           OrderStatus `json:"status" yaml:"status"`
	DueDate          time.Time   `json:"due_date" yaml:"due_date"`
}

// ProductionResult reports what one produced part did to the order book.
type ProductionResult struct {
	// Completed is set when the part finished an order.
	Completed *Order
	// Started is set when a pending order moved into progress to replace a
	// completed one.
	Started *Order
	// AllDone is set when no pending or in-progress order remains.
	AllDone bool
}

// OrderBook sequences the fixed order list. It carries no lock of its own;
// the Controller's mutation authority owns it.
type OrderBook struct {
	orders []Order
}

func NewOrderBook(orders []Order) *OrderBook {
	book := &OrderBook{orders: append([]Order(nil), orders...)}
	for i := range book.orders {
		if book.orders[i].Status == "" {
			book.orders[i].Status = OrderPending
		}
	}
	return book
}

// InProgress returns a copy of the active order, or nil.
func (b *OrderBook) InProgress() *Order {
	for i := range b.orders {
		if b.orders[i].Status == OrderInProgress {
			order := b.orders[i]
			return &order
		}
	}
	return nil
}

// MarkNextInProgress promotes the first pending order unless one is already
// active, preserving the at-most-one-in-progress invariant. Returns a copy
// of the active order, or nil when nothing is pending.
func (b *OrderBook) MarkNextInProgress() *Order {
	if active := b.InProgress(); active != nil {
		return active
	}
	for i := range b.orders {
		if b.orders[i].Status == OrderPending {
			b.orders[i].Status = OrderInProgress
			order := b.orders[i]
			return &order
		}
	}
	return nil
}

// RecordProduced credits n parts to the active order. Completing an order
// promotes the next pending one; finishing the last order signals AllDone.
// With no active order the parts are simply not attributed.
func (b *OrderBook) RecordProduced(n int) ProductionResult {
	var result ProductionResult

	active := -1
	for i := range b.orders {
		if b.orders[i].Status == OrderInProgress {
			active = i
			break
		}
	}
	if active < 0 {
		return result
	}

	order := &b.orders[active]
	order.QuantityProduced += n
	if order.QuantityProduced < order.QuantityRequired {
		return result
	}

	order.QuantityProduced = order.QuantityRequired
	order.Status = OrderCompleted
	completed := *order
	result.Completed = &completed

	if next := b.MarkNextInProgress(); next != nil {
		result.Started = next
		return result
	}

	result.AllDone = true
	return result
}

// Reset returns every order to pending with nothing produced.
func (b *OrderBook) Reset() {
	for i := range b.orders {
		b.orders[i].Status = OrderPending
		b.orders[i].QuantityProduced = 0
	}
}

// Snapshot returns a copy of all orders in list order.
func (b *OrderBook) Snapshot() []Order {
	return append([]Order(nil), b.orders...)
}

func (b *OrderBook) allPending() bool {
	for i := range b.orders {
		if b.orders[i].Status != OrderPending || b.orders[i].QuantityProduced != 0 {
			return false
		}
	}
	return true
}
