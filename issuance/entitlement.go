package issuance

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// EntitlementChecker decides whether a requester may be issued a challenge,
// e.g. whether their payment has cleared.
type EntitlementChecker interface {
	Entitled(ctx context.Context, requester common.Address) (bool, error)
}

type EntitlementFunc func(ctx context.Context, requester common.Address) (bool, error)

func (f EntitlementFunc) Entitled(ctx context.Context, requester common.Address) (bool, error) {
	return f(ctx, requester)
}

// AllowAll entitles every requester. Use it where payment is verified
// upstream of the service.
var AllowAll EntitlementChecker = EntitlementFunc(func(context.Context, common.Address) (bool, error) {
	return true, nil
})
