package integration

// ---------------------------------------------------------------------------
// SalesOrderSituation is the ERP situation code of a sales order
// ---------------------------------------------------------------------------

// SalesOrderSituation is the numeric situation the ERP reports for a sales order.
// Its value space is unrelated to NfseSituation.
type SalesOrderSituation int

const (
	// SalesOrderSituationDraft indicates the order is still being typed in
	SalesOrderSituationDraft SalesOrderSituation = 2
	// SalesOrderSituationOpen indicates an open order
	SalesOrderSituationOpen SalesOrderSituation = 6
	// SalesOrderSituationFulfilled indicates the order was fulfilled
	SalesOrderSituationFulfilled SalesOrderSituation = 9
	// SalesOrderSituationCancelled indicates the order was cancelled
	SalesOrderSituationCancelled SalesOrderSituation = 12
	// SalesOrderSituationInProgress indicates the order is being handled
	SalesOrderSituationInProgress SalesOrderSituation = 15
	// SalesOrderSituationVerified indicates the order was verified
	SalesOrderSituationVerified SalesOrderSituation = 24
)

var salesOrderSituationLabels = map[SalesOrderSituation]string{
	SalesOrderSituationDraft:      "draft",
	SalesOrderSituationOpen:       "open",
	SalesOrderSituationFulfilled:  "fulfilled",
	SalesOrderSituationCancelled:  "cancelled",
	SalesOrderSituationInProgress: "in_progress",
	SalesOrderSituationVerified:   "verified",
}

// String returns the label of the situation, or "unknown"
func (s SalesOrderSituation) String() string {
	if label, ok := salesOrderSituationLabels[s]; ok {
		return label
	}
	return "unknown"
}

// IsCancelled returns true for the cancelled situation
func (s SalesOrderSituation) IsCancelled() bool {
	return s == SalesOrderSituationCancelled
}

// ---------------------------------------------------------------------------
// NfseSituation is the ERP situation code of a service invoice
// ---------------------------------------------------------------------------

// NfseSituation is the numeric situation the ERP reports for an NFSe.
type NfseSituation int

const (
	// NfseSituationPending indicates the RPS was created but not settled
	NfseSituationPending NfseSituation = 0
	// NfseSituationIssued indicates the municipal processor assigned a number
	NfseSituationIssued NfseSituation = 1
	// NfseSituationRejected indicates the municipal processor rejected the RPS
	NfseSituationRejected NfseSituation = 2
	// NfseSituationAwaitingProtocol indicates the RPS was sent and awaits a protocol
	NfseSituationAwaitingProtocol NfseSituation = 3
)

// NfseOutcome is what a remote NFSe situation means for the local queue.
type NfseOutcome string

const (
	NfseOutcomePending NfseOutcome = "pending"
	NfseOutcomeIssued  NfseOutcome = "issued"
	NfseOutcomeError   NfseOutcome = "error"
)

var nfseSituationOutcomes = map[NfseSituation]NfseOutcome{
	NfseSituationPending:          NfseOutcomePending,
	NfseSituationIssued:           NfseOutcomeIssued,
	NfseSituationRejected:         NfseOutcomeError,
	NfseSituationAwaitingProtocol: NfseOutcomePending,
}

// Outcome maps the situation through the fixed lookup table.
// Unknown codes are treated as pending.
func (s NfseSituation) Outcome() NfseOutcome {
	if outcome, ok := nfseSituationOutcomes[s]; ok {
		return outcome
	}
	return NfseOutcomePending
}
