package policy

import (
	"context"
	"net/http"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/gate"
)

// Resource type names registered with the gate.
const (
	ResourceInvoice   = "invoice"
	ResourceTemplate  = "template"
	ResourceRecurring = "recurring"
	ResourceDelivery  = "delivery"
)

// AuthGate binds the gate to the user stored in the request context.
type AuthGate struct {
	Gate *gate.Gate[uint]
}

// NewAuthGate registers the policy of every resource type.
func NewAuthGate() *AuthGate {
	g := gate.New[uint]()
	owner := NewOwnershipPolicy()
	g.Register(ResourceInvoice, NewInvoicePolicy())
	g.Register(ResourceTemplate, owner)
	g.Register(ResourceRecurring, owner)
	g.Register(ResourceDelivery, owner)
	return &AuthGate{Gate: g}
}

// Authorize checks if the current user can perform an action on a resource.
// Returns nil if authorized, gate.ErrUnauthorized otherwise.
func (ag *AuthGate) Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return gate.ErrUnauthorized
	}
	return ag.Gate.Authorize(ctx, userID, action, resourceType, resource)
}

// Can is a convenience method that returns bool instead of error.
func (ag *AuthGate) Can(ctx context.Context, action gate.Action, resourceType string, resource any) bool {
	return ag.Authorize(ctx, action, resourceType, resource) == nil
}

// RequirePermission returns middleware that checks the collection-level
// action (list, create) for the current user.
func (ag *AuthGate) RequirePermission(resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ag.Can(r.Context(), action, resourceType, nil) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
