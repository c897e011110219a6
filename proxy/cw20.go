package proxy

import (
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/common"
)

func registerCW20(calls *vm.Table[abiHandler], queries *vm.Table[queryHandler]) {
	std := vm.StandardCW20
	calls.Register(std, "name", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		ti, err := c.cw20TokenInfo()
		return []interface{}{ti.Name}, err
	})
	calls.Register(std, "symbol", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		ti, err := c.cw20TokenInfo()
		return []interface{}{ti.Symbol}, err
	})
	calls.Register(std, "decimals", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		ti, err := c.cw20TokenInfo()
		return []interface{}{ti.Decimals}, err
	})
	calls.Register(std, "totalSupply", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		ti, err := c.cw20TokenInfo()
		if err != nil {
			return nil, err
		}
		v, err := parseUint128(ti.TotalSupply)
		return []interface{}{v}, err
	})
	calls.Register(std, "balanceOf", func(c *callContext, args []interface{}) ([]interface{}, error) {
		var res wasm.BalanceResponse
		if err := c.query(wasm.Message("balance", map[string]string{"address": c.target(args[0].(common.Address))}), &res); err != nil {
			return nil, err
		}
		v, err := parseUint128(res.Balance)
		return []interface{}{v}, err
	})
	calls.Register(std, "allowance", func(c *callContext, args []interface{}) ([]interface{}, error) {
		v, err := c.cw20Allowance(c.target(args[0].(common.Address)), c.target(args[1].(common.Address)))
		return []interface{}{v}, err
	})
	calls.Register(std, "transfer", cw20Transfer)
	calls.Register(std, "approve", cw20Approve)
	calls.Register(std, "transferFrom", cw20TransferFrom)

	queries.Register(std, "balance", forward)
	queries.Register(std, "token_info", forward)
	queries.Register(std, "allowance", forward)
	queries.Unsupported(std, mapset.NewSet("minter", "marketing_info", "download_logo", "all_allowances", "all_accounts"))
}

func (c *callContext) cw20TokenInfo() (wasm.TokenInfoResponse, error) {
	var ti wasm.TokenInfoResponse
	err := c.query(wasm.Message("token_info", nil), &ti)
	return ti, err
}

func (c *callContext) cw20Allowance(owner, spender string) (*big.Int, error) {
	var res wasm.AllowanceResponse
	if err := c.query(wasm.Message("allowance", map[string]string{"owner": owner, "spender": spender}), &res); err != nil {
		return nil, err
	}
	return parseUint128(res.Allowance)
}

func cw20Transfer(c *callContext, args []interface{}) ([]interface{}, error) {
	to, value := args[0].(common.Address), args[1].(*big.Int)
	amt, err := uint128(value)
	if err != nil {
		return nil, err
	}
	sender, err := c.origin()
	if err != nil {
		return nil, err
	}
	msg := wasm.Message("transfer", map[string]interface{}{"recipient": c.target(to), "amount": amt})
	if err := c.execute(sender, msg); err != nil {
		return nil, err
	}
	c.emit([]common.Hash{TransferTopic, AddressTopic(c.caller), AddressTopic(to)}, wordOf(value))
	return []interface{}{true}, nil
}

// cw20Approve sets the allowance to an absolute value by moving the
// current allowance up or down.
func cw20Approve(c *callContext, args []interface{}) ([]interface{}, error) {
	spender, value := args[0].(common.Address), args[1].(*big.Int)
	if _, err := uint128(value); err != nil {
		return nil, err
	}
	owner, err := c.origin()
	if err != nil {
		return nil, err
	}
	target := c.target(spender)
	current, err := c.cw20Allowance(owner, target)
	if err != nil {
		return nil, err
	}
	switch current.Cmp(value) {
	case -1:
		delta, _ := uint128(new(big.Int).Sub(value, current))
		err = c.execute(owner, wasm.Message("increase_allowance", map[string]interface{}{"spender": target, "amount": delta}))
	case 1:
		delta, _ := uint128(new(big.Int).Sub(current, value))
		err = c.execute(owner, wasm.Message("decrease_allowance", map[string]interface{}{"spender": target, "amount": delta}))
	}
	if err != nil {
		return nil, err
	}
	c.emit([]common.Hash{ApprovalTopic, AddressTopic(c.caller), AddressTopic(spender)}, wordOf(value))
	return []interface{}{true}, nil
}

func cw20TransferFrom(c *callContext, args []interface{}) ([]interface{}, error) {
	from, to, value := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
	amt, err := uint128(value)
	if err != nil {
		return nil, err
	}
	spender, err := c.origin()
	if err != nil {
		return nil, err
	}
	msg := wasm.Message("transfer_from", map[string]interface{}{
		"owner":     c.target(from),
		"recipient": c.target(to),
		"amount":    amt,
	})
	if err := c.execute(spender, msg); err != nil {
		return nil, err
	}
	c.emit([]common.Hash{TransferTopic, AddressTopic(from), AddressTopic(to)}, wordOf(value))
	return []interface{}{true}, nil
}
