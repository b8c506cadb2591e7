package workflow

import (
	"net/http"

	"bitbucket.org/mmdatafocus/drum_backend/models"
)

type ScanOutcome string

const (
	ScanAccepted ScanOutcome = "accepted"
	ScanRejected ScanOutcome = "rejected"
	ScanFatal    ScanOutcome = "fatal"
)

type ScanReason string

const (
	ReasonTooManyScans                 ScanReason = "TooManyScans"
	ReasonInvalidFormat                ScanReason = "InvalidFormat"
	ReasonDrumNotFound                 ScanReason = "DrumNotFound"
	ReasonUnhandledStatus              ScanReason = "UnhandledStatus"
	ReasonOverDelivery                 ScanReason = "OverDelivery"
	ReasonTransitionVerificationFailed ScanReason = "TransitionVerificationFailed"
	ReasonInternal                     ScanReason = "Internal"
)

// ScanResult is the outcome of one scan. Exactly one of the Outcome variants applies;
// Reason is empty for accepted scans.
type ScanResult struct {
	Outcome              ScanOutcome            `json:"outcome"`
	Reason               ScanReason             `json:"reason,omitempty"`
	Message              string                 `json:"message"`
	DrumId               int                    `json:"drumId,omitempty"`
	OrderId              int                    `json:"orderId,omitempty"`
	OldStatus            models.DrumStatus      `json:"oldStatus,omitempty"`
	NewStatus            models.DrumStatus      `json:"newStatus,omitempty"`
	TxId                 int                    `json:"txId,omitempty"`
	TxType               models.TransactionType `json:"txType,omitempty"`
	QuantityReceived     *int                   `json:"quantityReceived,omitempty"`
	OverDelivered        bool                   `json:"overDelivered,omitempty"`
	MinutesSinceLastScan *int                   `json:"minutesSinceLastScan,omitempty"`

	Err error `json:"-"`
}

func (r *ScanResult) Accepted() bool {
	return r != nil && r.Outcome == ScanAccepted
}

func (r *ScanResult) HTTPStatus() int {
	if r == nil {
		return http.StatusInternalServerError
	}
	if r.Outcome == ScanAccepted {
		return http.StatusOK
	}
	switch r.Reason {
	case ReasonInvalidFormat, ReasonUnhandledStatus:
		return http.StatusBadRequest
	case ReasonDrumNotFound:
		return http.StatusNotFound
	case ReasonTooManyScans:
		return http.StatusTooManyRequests
	case ReasonOverDelivery:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func rejected(reason ScanReason, message string) *ScanResult {
	return &ScanResult{Outcome: ScanRejected, Reason: reason, Message: message}
}
