package invoicing

import (
	"context"

	"github.com/erp/nfse-bridge/internal/domain/integration"
)

// Archive steps
const (
	StepEmit   = "emit"
	StepSubmit = "submit"
)

// PayloadArchive keeps a copy of what was sent to and received from the ERP.
// Archiving is best effort: failures are logged by the caller, never returned
// to the batch.
type PayloadArchive interface {
	Store(ctx context.Context, orderID int64, step string, payload any) error
}

// BatchRecorder records batch item outcomes
type BatchRecorder interface {
	RecordItem(ctx context.Context, operation, outcome string)
}

// CredentialReader exposes the active credential, used for the order cursor.
// A nil credential with a nil error means none is configured.
type CredentialReader interface {
	integration.TokenSource
	Credential(ctx context.Context) (*integration.Credential, error)
}

// ArchivedPayload is the document written to the archive
type ArchivedPayload struct {
	Request  any    `json:"request,omitempty"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

type nopArchive struct{}

func (nopArchive) Store(context.Context, int64, string, any) error { return nil }
