// Package policy registers the authorization rules for every resource type
// a user can act on.
package policy

import (
	"context"

	"github.com/diewo77/invoiceflow/gate"
)

// Ownable is an interface for resources that have an owner.
type Ownable interface {
	GetUserID() uint
}

// OwnershipPolicy allows a user to act only on resources they own.
type OwnershipPolicy struct{}

func NewOwnershipPolicy() *OwnershipPolicy {
	return &OwnershipPolicy{}
}

// Can checks if the user owns the resource. For list/create actions
// (resource is nil) there is nothing to own and it returns true.
func (p *OwnershipPolicy) Can(_ context.Context, userID uint, _ gate.Action, resource any) bool {
	if resource == nil {
		return true
	}
	ownable, ok := resource.(Ownable)
	if !ok {
		// Resources without an owner are never reachable through the gate.
		return false
	}
	return ownable.GetUserID() == userID
}

// editable is implemented by resources that can be frozen.
type editable interface {
	CanEdit() bool
}

// InvoicePolicy adds the paid-invoice lock on top of ownership.
type InvoicePolicy struct {
	owner OwnershipPolicy
}

func NewInvoicePolicy() *InvoicePolicy {
	return &InvoicePolicy{}
}

func (p *InvoicePolicy) Can(ctx context.Context, userID uint, action gate.Action, resource any) bool {
	if !p.owner.Can(ctx, userID, action, resource) {
		return false
	}
	if action == gate.ActionUpdate {
		if e, ok := resource.(editable); ok && !e.CanEdit() {
			return false
		}
	}
	return true
}
