package ethapi

import (
	"context"

	"github.com/dualvm/bridge/core"
	"github.com/ethereum/go-ethereum/rpc"
)

// FilterAPI serves eth_subscribe. Log subscriptions see the standard
// listing, synthetic logs included.
type FilterAPI struct {
	chain Backend
}

func NewFilterAPI(chain Backend) *FilterAPI {
	return &FilterAPI{chain: chain}
}

// NewHeads sends a notification each time a block is sealed.
func (api *FilterAPI) NewHeads(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()

	go func() {
		heads := make(chan core.ChainHeadEvent, 16)
		sub := api.chain.SubscribeChainHeadEvent(heads)
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-heads:
				notifier.Notify(rpcSub.ID, marshalHeader(ev.Header))
			case <-rpcSub.Err():
				return
			case <-sub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

// Logs sends the logs of each new block that match crit. The block range
// of crit is ignored.
func (api *FilterAPI) Logs(ctx context.Context, crit FilterCriteria) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()
	q := core.FilterQuery{Addresses: crit.Addresses, Topics: crit.Topics}

	go func() {
		matched := make(chan []*core.Log, 16)
		sub := api.chain.SubscribeLogsEvent(matched)
		defer sub.Unsubscribe()
		for {
			select {
			case logs := <-matched:
				for _, l := range logs {
					if q.Match(l) {
						notifier.Notify(rpcSub.ID, l.EthLog())
					}
				}
			case <-rpcSub.Err():
				return
			case <-sub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}
