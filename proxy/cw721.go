package proxy

import (
	"errors"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/common"
)

func registerCW721(calls *vm.Table[abiHandler], queries *vm.Table[queryHandler]) {
	std := vm.StandardCW721
	calls.Register(std, "name", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		ci, err := c.contractInfo()
		return []interface{}{ci.Name}, err
	})
	calls.Register(std, "symbol", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		ci, err := c.contractInfo()
		return []interface{}{ci.Symbol}, err
	})
	calls.Register(std, "totalSupply", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		var res wasm.NumTokensResponse
		if err := c.query(wasm.Message("num_tokens", nil), &res); err != nil {
			return nil, err
		}
		return []interface{}{new(big.Int).SetUint64(res.Count)}, nil
	})
	calls.Register(std, "balanceOf", cw721BalanceOf)
	calls.Register(std, "ownerOf", func(c *callContext, args []interface{}) ([]interface{}, error) {
		owner, err := c.cw721Owner(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		evm, err := c.evmOf(owner)
		return []interface{}{evm}, err
	})
	calls.Register(std, "getApproved", func(c *callContext, args []interface{}) ([]interface{}, error) {
		var res wasm.ApprovalsResponse
		if err := c.query(wasm.Message("approvals", map[string]string{"token_id": args[0].(*big.Int).String()}), &res); err != nil {
			return nil, err
		}
		if len(res.Approvals) == 0 {
			return []interface{}{common.Address{}}, nil
		}
		evm, err := c.evmOf(res.Approvals[0].Spender)
		return []interface{}{evm}, err
	})
	calls.Register(std, "isApprovedForAll", func(c *callContext, args []interface{}) ([]interface{}, error) {
		ok, err := c.cw721IsOperator(c.target(args[0].(common.Address)), c.target(args[1].(common.Address)))
		return []interface{}{ok}, err
	})
	calls.Register(std, "tokenURI", func(c *callContext, args []interface{}) ([]interface{}, error) {
		var res wasm.NftInfoResponse
		if err := c.query(wasm.Message("nft_info", map[string]string{"token_id": args[0].(*big.Int).String()}), &res); err != nil {
			return nil, err
		}
		return []interface{}{res.TokenURI}, nil
	})
	calls.Register(std, "supportsInterface", supportsInterface(ierc165, ierc721, ierc721Metadata))
	calls.Register(std, "approve", cw721Approve)
	calls.Register(std, "setApprovalForAll", setApprovalForAll)
	calls.Register(std, "transferFrom", cw721TransferFrom)
	calls.Register(std, "safeTransferFrom", cw721TransferFrom)
	calls.Unsupported(std, mapset.NewSet("royaltyInfo"))

	for _, op := range []string{"owner_of", "approval", "approvals", "operator", "num_tokens", "contract_info", "nft_info", "tokens"} {
		queries.Register(std, op, forward)
	}
	queries.Unsupported(std, mapset.NewSet("all_tokens", "minter", "all_nft_info"))
}

func supportsInterface(ids ...[4]byte) abiHandler {
	return func(_ *callContext, args []interface{}) ([]interface{}, error) {
		want := args[0].([4]byte)
		for _, id := range ids {
			if id == want {
				return []interface{}{true}, nil
			}
		}
		return []interface{}{false}, nil
	}
}

func (c *callContext) contractInfo() (wasm.ContractInfoResponse, error) {
	var ci wasm.ContractInfoResponse
	err := c.query(wasm.Message("contract_info", nil), &ci)
	return ci, err
}

func (c *callContext) cw721Owner(id *big.Int) (string, error) {
	var res wasm.OwnerOfResponse
	if err := c.query(wasm.Message("owner_of", map[string]string{"token_id": id.String()}), &res); err != nil {
		return "", err
	}
	return res.Owner, nil
}

func (c *callContext) cw721IsOperator(owner, operator string) (bool, error) {
	var res wasm.OperatorResponse
	err := c.query(wasm.Message("operator", map[string]string{"owner": owner, "operator": operator}), &res)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, wasm.ErrNotFound):
		return false, nil
	}
	return false, err
}

// cw721BalanceOf counts the owner's tokens page by page.
func cw721BalanceOf(c *callContext, args []interface{}) ([]interface{}, error) {
	owner := c.target(args[0].(common.Address))
	limit := uint32(params.CW721BalancePageSize)
	var (
		count uint64
		after *string
	)
	for {
		q := map[string]interface{}{"owner": owner, "limit": limit}
		if after != nil {
			q["start_after"] = *after
		}
		var res wasm.TokensResponse
		if err := c.query(wasm.Message("tokens", q), &res); err != nil {
			return nil, err
		}
		count += uint64(len(res.Tokens))
		if len(res.Tokens) < int(limit) {
			break
		}
		last := res.Tokens[len(res.Tokens)-1]
		after = &last
	}
	return []interface{}{new(big.Int).SetUint64(count)}, nil
}

func cw721Approve(c *callContext, args []interface{}) ([]interface{}, error) {
	to, id := args[0].(common.Address), args[1].(*big.Int)
	sender, err := c.origin()
	if err != nil {
		return nil, err
	}
	tokenID := id.String()
	owner, err := c.cw721Owner(id)
	if err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		var res wasm.ApprovalsResponse
		if err := c.query(wasm.Message("approvals", map[string]string{"token_id": tokenID}), &res); err != nil {
			return nil, err
		}
		for _, a := range res.Approvals {
			if err := c.execute(sender, wasm.Message("revoke", map[string]string{"spender": a.Spender, "token_id": tokenID})); err != nil {
				return nil, err
			}
		}
	} else {
		if err := c.execute(sender, wasm.Message("approve", map[string]string{"spender": c.target(to), "token_id": tokenID})); err != nil {
			return nil, err
		}
	}
	ownerEVM, err := c.evmOf(owner)
	if err != nil {
		return nil, err
	}
	c.emit([]common.Hash{ApprovalTopic, AddressTopic(ownerEVM), AddressTopic(to), IntTopic(id)}, ZeroWord())
	return nil, nil
}

// setApprovalForAll is shared by the ERC721 and ERC1155 faces; both
// pointees speak approve_all and revoke_all.
func setApprovalForAll(c *callContext, args []interface{}) ([]interface{}, error) {
	operator, approved := args[0].(common.Address), args[1].(bool)
	sender, err := c.origin()
	if err != nil {
		return nil, err
	}
	op := "revoke_all"
	if approved {
		op = "approve_all"
	}
	if err := c.execute(sender, wasm.Message(op, map[string]string{"operator": c.target(operator)})); err != nil {
		return nil, err
	}
	flag := common.Hash{}
	if approved {
		flag[31] = 1
	}
	c.emit([]common.Hash{ApprovalForAllTopic, AddressTopic(c.caller), AddressTopic(operator)}, flag.Bytes())
	return nil, nil
}

func cw721TransferFrom(c *callContext, args []interface{}) ([]interface{}, error) {
	from, to, id := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
	sender, err := c.origin()
	if err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, vm.ExecutionFailedReason("transfer to the zero address")
	}
	owner, err := c.cw721Owner(id)
	if err != nil {
		return nil, err
	}
	if owner != c.target(from) {
		return nil, vm.ExecutionFailedReason("from is not the owner of token %s", id)
	}
	msg := wasm.Message("transfer_nft", map[string]string{"recipient": c.target(to), "token_id": id.String()})
	if err := c.execute(sender, msg); err != nil {
		return nil, err
	}
	c.emit([]common.Hash{TransferTopic, AddressTopic(from), AddressTopic(to), IntTopic(id)}, ZeroWord())
	return nil, nil
}
