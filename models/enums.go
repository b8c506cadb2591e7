package models

import (
	"encoding/json"
	"errors"
)

type DrumStatus string

const (
	DrumStatusPending   DrumStatus = "pending"
	DrumStatusAvailable DrumStatus = "available"
	DrumStatusScheduled DrumStatus = "scheduled"
	DrumStatusProcessed DrumStatus = "processed"
	DrumStatusWasted    DrumStatus = "wasted"
	DrumStatusLost      DrumStatus = "lost"
)

var AllDrumStatuses = []DrumStatus{
	DrumStatusPending, DrumStatusAvailable, DrumStatusScheduled,
	DrumStatusProcessed, DrumStatusWasted, DrumStatusLost,
}

func (s DrumStatus) IsValid() bool {
	switch s {
	case DrumStatusPending, DrumStatusAvailable, DrumStatusScheduled,
		DrumStatusProcessed, DrumStatusWasted, DrumStatusLost:
		return true
	}
	return false
}

func ParseDrumStatus(str string) (DrumStatus, error) {
	s := DrumStatus(str)
	if !s.IsValid() {
		return "", errors.New("invalid drum status")
	}
	return s, nil
}

func (s *DrumStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("drum status must be string")
	}
	v, err := ParseDrumStatus(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type DrumLocation string

const (
	DrumLocationNewSite DrumLocation = "new-site"
	DrumLocationOldSite DrumLocation = "old-site"
)

func (l DrumLocation) IsValid() bool {
	return l == DrumLocationNewSite || l == DrumLocationOldSite
}

func (l *DrumLocation) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("drum location must be string")
	}
	v := DrumLocation(str)
	if !v.IsValid() {
		return errors.New("invalid drum location")
	}
	*l = v
	return nil
}

type TransactionType string

const (
	TransactionTypeIntake     TransactionType = "intake"
	TransactionTypeProcessing TransactionType = "processing"
	TransactionTypeCancelled  TransactionType = "cancelled"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeIntake, TransactionTypeProcessing, TransactionTypeCancelled:
		return true
	}
	return false
}

func ParseTransactionType(str string) (TransactionType, error) {
	t := TransactionType(str)
	if !t.IsValid() {
		return "", errors.New("invalid transaction type")
	}
	return t, nil
}

func (t *TransactionType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("transaction type must be string")
	}
	v, err := ParseTransactionType(str)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusComplete OrderStatus = "complete"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPartial, OrderStatusComplete:
		return true
	}
	return false
}

func (s *OrderStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("order status must be string")
	}
	v := OrderStatus(str)
	if !v.IsValid() {
		return errors.New("invalid order status")
	}
	*s = v
	return nil
}

// DeriveOrderStatus maps receipt progress onto the order status.
func DeriveOrderStatus(quantity, received int) OrderStatus {
	switch {
	case received <= 0:
		return OrderStatusPending
	case received < quantity:
		return OrderStatusPartial
	default:
		return OrderStatusComplete
	}
}

type EtaStatus string

const (
	EtaStatusTbc       EtaStatus = "tbc"
	EtaStatusConfirmed EtaStatus = "confirmed"
	EtaStatusOverdue   EtaStatus = "overdue"
)
