package wasm

import (
	"fmt"
	"strings"

	"github.com/dualvm/bridge/core/vm"
	"github.com/holiman/uint256"
)

const (
	cw20InfoKey   = "token_info"
	CW20MinterKey = "minter"
	cw20BalPrefix = "balance/"
	cw20AllowPfx  = "allowance/"
)

// CW20Coin is an initial balance entry.
type CW20Coin struct {
	Address string  `json:"address"`
	Amount  Uint128 `json:"amount"`
}

type CW20Minter struct {
	Minter string   `json:"minter"`
	Cap    *Uint128 `json:"cap,omitempty"`
}

// CW20InstantiateMsg is the cw20-base instantiate message.
type CW20InstantiateMsg struct {
	Name            string      `json:"name"`
	Symbol          string      `json:"symbol"`
	Decimals        uint8       `json:"decimals"`
	InitialBalances []CW20Coin  `json:"initial_balances"`
	Mint            *CW20Minter `json:"mint,omitempty"`
}

// TokenInfoResponse answers {"token_info":{}}.
type TokenInfoResponse struct {
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	Decimals    uint8   `json:"decimals"`
	TotalSupply Uint128 `json:"total_supply"`
}

// BalanceResponse answers {"balance":{"address":...}}.
type BalanceResponse struct {
	Balance Uint128 `json:"balance"`
}

// AllowanceResponse answers {"allowance":{"owner":...,"spender":...}}.
type AllowanceResponse struct {
	Allowance Uint128    `json:"allowance"`
	Expires   Expiration `json:"expires"`
}

type cw20Program struct{}

func balKey(addr string) string              { return cw20BalPrefix + addr }
func allowKey(owner, spender string) string { return cw20AllowPfx + owner + "/" + spender }

func (cw20Program) Instantiate(deps Deps, info MessageInfo, msg []byte) (*Response, error) {
	var m CW20InstantiateMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	if m.Name == "" || m.Symbol == "" {
		return nil, fmt.Errorf("name and symbol are required")
	}
	supply := new(uint256.Int)
	for _, c := range m.InitialBalances {
		if err := deps.API.Validate(c.Address); err != nil {
			return nil, err
		}
		amt, err := c.Amount.Int()
		if err != nil {
			return nil, err
		}
		bal, err := addChecked(loadInt(deps.Storage(), balKey(c.Address)), amt)
		if err != nil {
			return nil, err
		}
		saveInt(deps.Storage(), balKey(c.Address), bal)
		if supply, err = addChecked(supply, amt); err != nil {
			return nil, err
		}
	}
	if m.Mint != nil {
		if err := deps.API.Validate(m.Mint.Minter); err != nil {
			return nil, err
		}
		if err := saveJSON(deps.Storage(), CW20MinterKey, m.Mint); err != nil {
			return nil, err
		}
	}
	ti := TokenInfoResponse{Name: m.Name, Symbol: m.Symbol, Decimals: m.Decimals, TotalSupply: NewUint128(supply)}
	return &Response{}, saveJSON(deps.Storage(), cw20InfoKey, ti)
}

func (p cw20Program) tokenInfo(deps Deps) (TokenInfoResponse, error) {
	var ti TokenInfoResponse
	ok, err := loadJSON(deps.Storage(), cw20InfoKey, &ti)
	if err == nil && !ok {
		err = fmt.Errorf("%w: token info", ErrNotFound)
	}
	return ti, err
}

func (p cw20Program) setSupply(deps Deps, delta *uint256.Int, add bool) error {
	ti, err := p.tokenInfo(deps)
	if err != nil {
		return err
	}
	supply, err := ti.TotalSupply.Int()
	if err != nil {
		return err
	}
	if add {
		if supply, err = addChecked(supply, delta); err != nil {
			return err
		}
		var m CW20Minter
		if ok, _ := loadJSON(deps.Storage(), CW20MinterKey, &m); ok && m.Cap != nil {
			limit, err := m.Cap.Int()
			if err != nil {
				return err
			}
			if supply.Gt(limit) {
				return fmt.Errorf("minting cannot exceed the cap")
			}
		}
	} else {
		supply = new(uint256.Int).Sub(supply, delta)
	}
	ti.TotalSupply = NewUint128(supply)
	return saveJSON(deps.Storage(), cw20InfoKey, ti)
}

func (p cw20Program) move(deps Deps, from, to string, amt *uint256.Int) error {
	if err := deps.API.Validate(to); err != nil {
		return err
	}
	bal := loadInt(deps.Storage(), balKey(from))
	if bal.Lt(amt) {
		return fmt.Errorf("%w: %s has %s, needs %s", vm.ErrInsufficientBalance, from, bal.Dec(), amt.Dec())
	}
	saveInt(deps.Storage(), balKey(from), new(uint256.Int).Sub(bal, amt))
	dst, err := addChecked(loadInt(deps.Storage(), balKey(to)), amt)
	if err != nil {
		return err
	}
	saveInt(deps.Storage(), balKey(to), dst)
	return nil
}

func (p cw20Program) burn(deps Deps, from string, amt *uint256.Int) error {
	bal := loadInt(deps.Storage(), balKey(from))
	if bal.Lt(amt) {
		return fmt.Errorf("%w: %s has %s, needs %s", vm.ErrInsufficientBalance, from, bal.Dec(), amt.Dec())
	}
	saveInt(deps.Storage(), balKey(from), new(uint256.Int).Sub(bal, amt))
	return p.setSupply(deps, amt, false)
}

func (p cw20Program) spendAllowance(deps Deps, owner, spender string, amt *uint256.Int) error {
	key := allowKey(owner, spender)
	allowance := loadInt(deps.Storage(), key)
	if allowance.Lt(amt) {
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s", vm.ErrInsufficientAllowance, spender, allowance.Dec(), owner, amt.Dec())
	}
	saveInt(deps.Storage(), key, new(uint256.Int).Sub(allowance, amt))
	return nil
}

type cw20Amount struct {
	Owner     string  `json:"owner"`
	Recipient string  `json:"recipient"`
	Contract  string  `json:"contract"`
	Spender   string  `json:"spender"`
	Amount    Uint128 `json:"amount"`
	Msg       []byte  `json:"msg,omitempty"`
}

func (p cw20Program) Execute(deps Deps, info MessageInfo, msg []byte) (*Response, error) {
	name, raw, err := SplitMessage(msg)
	if err != nil {
		return nil, err
	}
	var m cw20Amount
	if err := decodeBody(name, raw, &m); err != nil {
		return nil, err
	}
	amt, err := m.Amount.Int()
	if err != nil {
		return nil, err
	}
	if amt.IsZero() && name != "decrease_allowance" && name != "increase_allowance" {
		return nil, fmt.Errorf("invalid zero amount")
	}
	resp := new(Response).AddAttribute("action", name)
	sender := info.Sender
	switch name {
	case "transfer":
		if err := p.move(deps, sender, m.Recipient, amt); err != nil {
			return nil, err
		}
		resp.AddAttribute("from", sender).AddAttribute("to", m.Recipient)
	case "send":
		if err := p.move(deps, sender, m.Contract, amt); err != nil {
			return nil, err
		}
		resp.AddAttribute("from", sender).AddAttribute("to", m.Contract)
	case "burn":
		if err := p.burn(deps, sender, amt); err != nil {
			return nil, err
		}
		resp.AddAttribute("from", sender)
	case "mint":
		var minter CW20Minter
		if ok, err := loadJSON(deps.Storage(), CW20MinterKey, &minter); err != nil || !ok || minter.Minter != sender {
			return nil, fmt.Errorf("%w: only the minter can mint", ErrUnauthorized)
		}
		if err := deps.API.Validate(m.Recipient); err != nil {
			return nil, err
		}
		if err := p.setSupply(deps, amt, true); err != nil {
			return nil, err
		}
		bal, err := addChecked(loadInt(deps.Storage(), balKey(m.Recipient)), amt)
		if err != nil {
			return nil, err
		}
		saveInt(deps.Storage(), balKey(m.Recipient), bal)
		resp.AddAttribute("to", m.Recipient)
	case "increase_allowance", "decrease_allowance":
		if err := deps.API.Validate(m.Spender); err != nil {
			return nil, err
		}
		if m.Spender == sender {
			return nil, fmt.Errorf("cannot set allowance to own account")
		}
		key := allowKey(sender, m.Spender)
		cur := loadInt(deps.Storage(), key)
		if name == "increase_allowance" {
			if cur, err = addChecked(cur, amt); err != nil {
				return nil, err
			}
		} else if cur.Lt(amt) {
			cur = new(uint256.Int)
		} else {
			cur = new(uint256.Int).Sub(cur, amt)
		}
		saveInt(deps.Storage(), key, cur)
		resp.AddAttribute("owner", sender).AddAttribute("spender", m.Spender)
	case "transfer_from", "send_from":
		to := m.Recipient
		if name == "send_from" {
			to = m.Contract
		}
		if err := p.spendAllowance(deps, m.Owner, sender, amt); err != nil {
			return nil, err
		}
		if err := p.move(deps, m.Owner, to, amt); err != nil {
			return nil, err
		}
		resp.AddAttribute("from", m.Owner).AddAttribute("to", to).AddAttribute("by", sender)
	case "burn_from":
		if err := p.spendAllowance(deps, m.Owner, sender, amt); err != nil {
			return nil, err
		}
		if err := p.burn(deps, m.Owner, amt); err != nil {
			return nil, err
		}
		resp.AddAttribute("from", m.Owner).AddAttribute("by", sender)
	default:
		return nil, fmt.Errorf("%w: cw20 execute %q", ErrUnknownMessage, name)
	}
	resp.AddAttribute("amount", amt.Dec())
	return resp, nil
}

type cw20Query struct {
	Address    string  `json:"address"`
	Owner      string  `json:"owner"`
	Spender    string  `json:"spender"`
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

func (p cw20Program) Query(deps Deps, msg []byte) ([]byte, error) {
	name, raw, err := SplitMessage(msg)
	if err != nil {
		return nil, err
	}
	var q cw20Query
	if err := decodeBody(name, raw, &q); err != nil {
		return nil, err
	}
	switch name {
	case "balance":
		return marshalResponse(BalanceResponse{Balance: NewUint128(loadInt(deps.Storage(), balKey(q.Address)))})
	case "token_info":
		ti, err := p.tokenInfo(deps)
		if err != nil {
			return nil, err
		}
		return marshalResponse(ti)
	case "allowance":
		return marshalResponse(AllowanceResponse{Allowance: NewUint128(loadInt(deps.Storage(), allowKey(q.Owner, q.Spender))), Expires: never})
	case "minter":
		var m CW20Minter
		ok, err := loadJSON(deps.Storage(), CW20MinterKey, &m)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []byte("null"), nil
		}
		return marshalResponse(m)
	case "all_accounts":
		accounts := []string{}
		limit := pageLimit(q.Limit)
		deps.Storage().Iterate([]byte(cw20BalPrefix), func(k, _ []byte) bool {
			addr := strings.TrimPrefix(string(k), cw20BalPrefix)
			if q.StartAfter != nil && addr <= *q.StartAfter {
				return true
			}
			accounts = append(accounts, addr)
			return len(accounts) < limit
		})
		return marshalResponse(map[string][]string{"accounts": accounts})
	}
	return nil, fmt.Errorf("%w: cw20 query %q", ErrUnknownMessage, name)
}

func pageLimit(l *uint32) int {
	const def, max = 10, 100
	if l == nil || *l == 0 {
		return def
	}
	if *l > max {
		return max
	}
	return int(*l)
}
