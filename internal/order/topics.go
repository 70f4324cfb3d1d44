package order

const (
	TopicOrderPlaced  = "order.placed"
	TopicOrderSettled = "order.settled"
)

// Partition key = order_id so every event for one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
