package proxy

import (
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/common"
)

func registerCW1155(calls *vm.Table[abiHandler], queries *vm.Table[queryHandler]) {
	std := vm.StandardCW1155
	calls.Register(std, "name", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		ci, err := c.contractInfo()
		return []interface{}{ci.Name}, err
	})
	calls.Register(std, "symbol", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		ci, err := c.contractInfo()
		return []interface{}{ci.Symbol}, err
	})
	calls.Register(std, "uri", func(c *callContext, args []interface{}) ([]interface{}, error) {
		var res wasm.NftInfoResponse
		if err := c.query(wasm.Message("token_info", map[string]string{"token_id": args[0].(*big.Int).String()}), &res); err != nil {
			return nil, err
		}
		return []interface{}{res.TokenURI}, nil
	})
	calls.Register(std, "balanceOf", func(c *callContext, args []interface{}) ([]interface{}, error) {
		owner, id := c.target(args[0].(common.Address)), args[1].(*big.Int).String()
		var res wasm.BalanceResponse
		if err := c.query(wasm.Message("balance_of", map[string]string{"owner": owner, "token_id": id}), &res); err != nil {
			return nil, err
		}
		v, err := parseUint128(res.Balance)
		return []interface{}{v}, err
	})
	calls.Register(std, "balanceOfBatch", cw1155BalanceOfBatch)
	calls.Register(std, "isApprovedForAll", func(c *callContext, args []interface{}) ([]interface{}, error) {
		var res wasm.IsApprovedForAllResponse
		q := map[string]string{"owner": c.target(args[0].(common.Address)), "operator": c.target(args[1].(common.Address))}
		if err := c.query(wasm.Message("is_approved_for_all", q), &res); err != nil {
			return nil, err
		}
		return []interface{}{res.Approved}, nil
	})
	// totalSupply() and totalSupply(uint256) share a name.
	calls.Register(std, "totalSupply", func(c *callContext, args []interface{}) ([]interface{}, error) {
		var id *big.Int
		if len(args) == 1 {
			id = args[0].(*big.Int)
		}
		v, err := c.cw1155Supply(id)
		return []interface{}{v}, err
	})
	calls.Register(std, "exists", func(c *callContext, args []interface{}) ([]interface{}, error) {
		v, err := c.cw1155Supply(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return []interface{}{v.Sign() > 0}, nil
	})
	calls.Register(std, "supportsInterface", supportsInterface(ierc165, ierc1155, ierc1155MetaURI, ierc1155Supply))
	calls.Register(std, "setApprovalForAll", setApprovalForAll)
	calls.Register(std, "safeTransferFrom", cw1155SafeTransferFrom)
	calls.Register(std, "safeBatchTransferFrom", cw1155SafeBatchTransferFrom)
	calls.Unsupported(std, mapset.NewSet("royaltyInfo"))

	for _, op := range []string{"balance_of", "balance_of_batch", "is_approved_for_all", "token_info", "num_tokens", "contract_info"} {
		queries.Register(std, op, forward)
	}
	queries.Unsupported(std, mapset.NewSet("minter", "all_tokens"))
}

func (c *callContext) cw1155Supply(id *big.Int) (*big.Int, error) {
	q := map[string]string{}
	if id != nil {
		q["token_id"] = id.String()
	}
	var res wasm.SupplyResponse
	if err := c.query(wasm.Message("num_tokens", q), &res); err != nil {
		return nil, err
	}
	return parseUint128(res.Count)
}

func cw1155BalanceOfBatch(c *callContext, args []interface{}) ([]interface{}, error) {
	accounts, ids := args[0].([]common.Address), args[1].([]*big.Int)
	if len(accounts) != len(ids) {
		return nil, vm.ExecutionFailedReason("accounts and ids length mismatch")
	}
	reqs := make([]wasm.OwnerToken, len(ids))
	for i := range ids {
		reqs[i] = wasm.OwnerToken{Owner: c.target(accounts[i]), TokenID: ids[i].String()}
	}
	var res wasm.BalancesResponse
	if err := c.query(wasm.Message("balance_of_batch", reqs), &res); err != nil {
		return nil, err
	}
	if len(res.Balances) != len(reqs) {
		return nil, vm.ExecutionFailedReason("pointee answered %d balances for %d requests", len(res.Balances), len(reqs))
	}
	out := make([]*big.Int, len(res.Balances))
	for i, b := range res.Balances {
		v, err := parseUint128(b.Amount)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return []interface{}{out}, nil
}

func cw1155SafeTransferFrom(c *callContext, args []interface{}) ([]interface{}, error) {
	from, to := args[0].(common.Address), args[1].(common.Address)
	id, value := args[2].(*big.Int), args[3].(*big.Int)
	if to == (common.Address{}) {
		return nil, vm.ExecutionFailedReason("transfer to the zero address")
	}
	amt, err := uint128(value)
	if err != nil {
		return nil, err
	}
	sender, err := c.origin()
	if err != nil {
		return nil, err
	}
	msg := wasm.Message("send_from", map[string]interface{}{
		"from":     c.target(from),
		"to":       c.target(to),
		"token_id": id.String(),
		"value":    amt,
	})
	if err := c.execute(sender, msg); err != nil {
		return nil, err
	}
	data, err := ERC1155ABI.Events["TransferSingle"].Inputs.NonIndexed().Pack(id, value)
	if err != nil {
		return nil, err
	}
	c.emit([]common.Hash{TransferSingleTopic, AddressTopic(c.caller), AddressTopic(from), AddressTopic(to)}, data)
	return nil, nil
}

func cw1155SafeBatchTransferFrom(c *callContext, args []interface{}) ([]interface{}, error) {
	from, to := args[0].(common.Address), args[1].(common.Address)
	ids, values := args[2].([]*big.Int), args[3].([]*big.Int)
	if len(ids) != len(values) {
		return nil, vm.ExecutionFailedReason("ids and values length mismatch")
	}
	if to == (common.Address{}) {
		return nil, vm.ExecutionFailedReason("transfer to the zero address")
	}
	batch := make([]wasm.TokenAmount, len(ids))
	for i := range ids {
		amt, err := uint128(values[i])
		if err != nil {
			return nil, err
		}
		batch[i] = wasm.TokenAmount{TokenID: ids[i].String(), Amount: amt}
	}
	sender, err := c.origin()
	if err != nil {
		return nil, err
	}
	msg := wasm.Message("batch_send_from", map[string]interface{}{
		"from":  c.target(from),
		"to":    c.target(to),
		"batch": batch,
	})
	if err := c.execute(sender, msg); err != nil {
		return nil, err
	}
	data, err := ERC1155ABI.Events["TransferBatch"].Inputs.NonIndexed().Pack(ids, values)
	if err != nil {
		return nil, err
	}
	c.emit([]common.Hash{TransferBatchTopic, AddressTopic(c.caller), AddressTopic(from), AddressTopic(to)}, data)
	return nil, nil
}
