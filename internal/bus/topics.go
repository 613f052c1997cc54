package bus

// Input topics produced by the warehouse backend and edge services.
const (
	TopicInventory = "warehouse.inventory"
	TopicOrders    = "warehouse.orders"
	TopicShipments = "warehouse.shipments"
	TopicAlerts    = "warehouse.alerts"
	TopicAudit     = "warehouse.audit"
	TopicMetrics   = "warehouse.metrics"
)

// Output topics written by the pipeline.
const (
	TopicProcessedInventory = "warehouse.processed.inventory"
	TopicProcessedOrders    = "warehouse.processed.orders"
	TopicProcessedShipments = "warehouse.processed.shipments"
	TopicAggregatedMetrics  = "warehouse.aggregated.metrics"
)

// InputTopics lists every topic the processing workers consume.
func InputTopics() []string {
	return []string{
		TopicInventory,
		TopicOrders,
		TopicShipments,
		TopicAlerts,
		TopicAudit,
		TopicMetrics,
	}
}

// StorageTopics lists the topics the storage sink consumes.
func StorageTopics() []string {
	return []string{
		TopicAlerts,
		TopicProcessedInventory,
		TopicProcessedOrders,
		TopicProcessedShipments,
		TopicAggregatedMetrics,
		TopicMetrics,
	}
}

var processedByInput = map[string]string{
	TopicInventory: TopicProcessedInventory,
	TopicOrders:    TopicProcessedOrders,
	TopicShipments: TopicProcessedShipments,
}

// ProcessedTopic returns the enriched-output topic for an input topic, or ""
// when the input has no processed counterpart (alerts, audit, metrics).
func ProcessedTopic(input string) string {
	return processedByInput[input]
}
