package order_test

import (
	"testing"

	"github.com/freshmart/go-storefront/internal/order"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, order.CanTransition(order.StatusAwaitingPayment, order.StatusSettled))
	assert.True(t, order.CanTransition(order.StatusSettled, order.StatusCompleted))
	assert.True(t, order.CanTransition(order.StatusUnpaid, order.StatusCompleted))

	assert.False(t, order.CanTransition(order.StatusSettled, order.StatusAwaitingPayment))
	assert.False(t, order.CanTransition(order.StatusCompleted, order.StatusSettled))
	assert.False(t, order.CanTransition(order.StatusUnpaid, order.StatusSettled))
}

func TestPayMethod(t *testing.T) {
	assert.True(t, order.PayGateway.Valid())
	assert.True(t, order.PayCashOnDelivery.Valid())
	assert.True(t, order.PayBankWire.Valid())
	assert.False(t, order.PayMethod("CHEQUE").Valid())

	assert.Equal(t, order.StatusAwaitingPayment, order.PayGateway.InitialStatus())
	assert.Equal(t, order.StatusUnpaid, order.PayBankWire.InitialStatus())
}
