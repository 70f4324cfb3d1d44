package order

type Status string

const (
	// Gateway orders wait for settlement confirmation.
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	// Non-gateway orders (COD, bank wire) are collected out of band.
	StatusUnpaid    Status = "UNPAID"
	StatusSettled   Status = "SETTLED"
	StatusCompleted Status = "COMPLETED"
)

var validNext = map[Status]map[Status]bool{
	StatusAwaitingPayment: {StatusSettled: true},
	StatusUnpaid:          {StatusCompleted: true},
	StatusSettled:         {StatusCompleted: true},
	StatusCompleted:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
