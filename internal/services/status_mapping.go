package services

import (
	"errors"
	"fmt"

	domain "github.com/sourcelane/api/internal/domain"
)

// statusMappingVersion identifies the mapping table revision. It is logged
// with every applied sync so historical writes can be interpreted after the
// table changes.
const statusMappingVersion = 1

// ErrUnknownStatus indicates a request status outside the defined enum.
var ErrUnknownStatus = errors.New("status mapping: unknown request status")

var requestToInvoiceStatus = map[domain.RequestStatus]domain.InvoiceStatus{
	domain.RequestStatusPending:   domain.InvoiceStatusDraft,
	domain.RequestStatusApproved:  domain.InvoiceStatusSent,
	domain.RequestStatusRejected:  domain.InvoiceStatusCancelled,
	domain.RequestStatusFulfilled: domain.InvoiceStatusPaid,
}

// MapRequestStatusToInvoiceStatus derives the invoice status for a request
// lifecycle status. Pure lookup, total over the enum. Callers must never apply
// the result to storage directly; only the invoice sync path may do that.
func MapRequestStatusToInvoiceStatus(status domain.RequestStatus) (domain.InvoiceStatus, error) {
	mapped, ok := requestToInvoiceStatus[status]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	return mapped, nil
}
