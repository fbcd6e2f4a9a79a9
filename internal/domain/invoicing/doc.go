// Package invoicing contains the NFSe queue bounded context.
// It owns the RpsRecord entity, its status state machine and the QueueStore
// port that keeps at most one RPS per sales order.
package invoicing
