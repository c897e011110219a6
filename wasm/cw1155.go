package wasm

import (
	"fmt"
	"strings"

	"github.com/dualvm/bridge/core/vm"
	"github.com/holiman/uint256"
)

const (
	cw1155InfoKey      = "contract_info"
	cw1155MinterKey    = "minter"
	cw1155TotalKey     = "total_supply"
	cw1155BalPrefix    = "balances/"
	cw1155SupplyPrefix = "supply/"
	cw1155URIPrefix    = "token_uri/"
	cw1155OperPrefix   = "operators/"
)

// CW1155InstantiateMsg is the instantiate message of the multi-token
// program.
type CW1155InstantiateMsg struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Minter string `json:"minter"`
}

// TokenAmount is one entry of a batch.
type TokenAmount struct {
	TokenID string  `json:"token_id"`
	Amount  Uint128 `json:"amount"`
}

// OwnerToken is one request of a balance_of_batch query.
type OwnerToken struct {
	Owner   string `json:"owner"`
	TokenID string `json:"token_id"`
}

// BatchBalance is one answer of a balance_of_batch query.
type BatchBalance struct {
	TokenID string  `json:"token_id"`
	Owner   string  `json:"owner"`
	Amount  Uint128 `json:"amount"`
}

// BalancesResponse answers {"balance_of_batch":[...]} in request order.
type BalancesResponse struct {
	Balances []BatchBalance `json:"balances"`
}

// IsApprovedForAllResponse answers {"is_approved_for_all":{...}}.
type IsApprovedForAllResponse struct {
	Approved bool `json:"approved"`
}

// SupplyResponse answers {"num_tokens":{"token_id":...}}.
type SupplyResponse struct {
	Count Uint128 `json:"count"`
}

type cw1155Program struct{}

func mtBalKey(id, owner string) string { return cw1155BalPrefix + id + "/" + owner }
func mtSupplyKey(id string) string      { return cw1155SupplyPrefix + id }

func (cw1155Program) Instantiate(deps Deps, info MessageInfo, msg []byte) (*Response, error) {
	var m CW1155InstantiateMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	minter := m.Minter
	if minter == "" {
		minter = info.Sender
	}
	if err := deps.API.Validate(minter); err != nil {
		return nil, err
	}
	deps.Storage().Set([]byte(cw1155MinterKey), []byte(minter))
	return &Response{}, saveJSON(deps.Storage(), cw1155InfoKey, ContractInfoResponse{Name: m.Name, Symbol: m.Symbol})
}

// moveToken applies one balance change. An empty from mints and an empty
// to burns.
func (p cw1155Program) moveToken(deps Deps, from, to, id string, amt *uint256.Int) error {
	if id == "" {
		return fmt.Errorf("empty token id")
	}
	if from != "" {
		bal := loadInt(deps.Storage(), mtBalKey(id, from))
		if bal.Lt(amt) {
			return fmt.Errorf("%w: %s holds %s of token %s, needs %s", vm.ErrInsufficientBalance, from, bal.Dec(), id, amt.Dec())
		}
		saveInt(deps.Storage(), mtBalKey(id, from), new(uint256.Int).Sub(bal, amt))
	} else {
		supply, err := addChecked(loadInt(deps.Storage(), mtSupplyKey(id)), amt)
		if err != nil {
			return err
		}
		total, err := addChecked(loadInt(deps.Storage(), cw1155TotalKey), amt)
		if err != nil {
			return err
		}
		deps.Storage().Set([]byte(mtSupplyKey(id)), []byte(supply.Dec()))
		saveInt(deps.Storage(), cw1155TotalKey, total)
	}
	if to != "" {
		if err := deps.API.Validate(to); err != nil {
			return err
		}
		bal, err := addChecked(loadInt(deps.Storage(), mtBalKey(id, to)), amt)
		if err != nil {
			return err
		}
		saveInt(deps.Storage(), mtBalKey(id, to), bal)
	} else {
		supply := loadInt(deps.Storage(), mtSupplyKey(id))
		deps.Storage().Set([]byte(mtSupplyKey(id)), []byte(new(uint256.Int).Sub(supply, amt).Dec()))
		total := loadInt(deps.Storage(), cw1155TotalKey)
		saveInt(deps.Storage(), cw1155TotalKey, new(uint256.Int).Sub(total, amt))
	}
	return nil
}

func (p cw1155Program) checkApproved(deps Deps, sender, owner string) error {
	if sender == owner || deps.Storage().Has([]byte(operatorKey(owner, sender))) {
		return nil
	}
	return fmt.Errorf("%w: %s is not approved for %s", ErrUnauthorized, sender, owner)
}

type cw1155Exec struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Operator string        `json:"operator"`
	TokenID  string        `json:"token_id"`
	Value    Uint128       `json:"value"`
	TokenURI string        `json:"token_uri,omitempty"`
	Batch    []TokenAmount `json:"batch"`
	Msg      []byte        `json:"msg,omitempty"`
}

func (p cw1155Program) Execute(deps Deps, info MessageInfo, msg []byte) (*Response, error) {
	name, raw, err := SplitMessage(msg)
	if err != nil {
		return nil, err
	}
	var m cw1155Exec
	if err := decodeBody(name, raw, &m); err != nil {
		return nil, err
	}
	sender := info.Sender
	resp := new(Response)
	switch name {
	case "send_from", "mint", "burn":
		from, to, action := m.From, m.To, "transfer_single"
		switch name {
		case "mint":
			if err := p.checkMinter(deps, sender); err != nil {
				return nil, err
			}
			from, action = "", "mint_single"
		case "burn":
			to, action = "", "burn_single"
		}
		if from != "" {
			if err := p.checkApproved(deps, sender, from); err != nil {
				return nil, err
			}
		}
		amt, err := m.Value.Int()
		if err != nil {
			return nil, err
		}
		if err := p.moveToken(deps, from, to, m.TokenID, amt); err != nil {
			return nil, err
		}
		if name == "mint" && m.TokenURI != "" {
			deps.Storage().Set([]byte(cw1155URIPrefix+m.TokenID), []byte(m.TokenURI))
		}
		resp.AddAttribute("action", action).AddAttribute("sender", sender)
		if from != "" {
			resp.AddAttribute("owner", from)
		}
		if to != "" {
			resp.AddAttribute("recipient", to)
		}
		resp.AddAttribute("token_id", m.TokenID).AddAttribute("amount", amt.Dec())
	case "batch_send_from", "batch_mint", "batch_burn":
		from, to, action := m.From, m.To, "transfer_batch"
		switch name {
		case "batch_mint":
			if err := p.checkMinter(deps, sender); err != nil {
				return nil, err
			}
			from, action = "", "mint_batch"
		case "batch_burn":
			to, action = "", "burn_batch"
		}
		if from != "" {
			if err := p.checkApproved(deps, sender, from); err != nil {
				return nil, err
			}
		}
		if len(m.Batch) == 0 {
			return nil, fmt.Errorf("empty batch")
		}
		ids := make([]string, len(m.Batch))
		amts := make([]string, len(m.Batch))
		for i, b := range m.Batch {
			amt, err := b.Amount.Int()
			if err != nil {
				return nil, err
			}
			if err := p.moveToken(deps, from, to, b.TokenID, amt); err != nil {
				return nil, err
			}
			ids[i], amts[i] = b.TokenID, amt.Dec()
		}
		resp.AddAttribute("action", action).AddAttribute("sender", sender)
		if from != "" {
			resp.AddAttribute("owner", from)
		}
		if to != "" {
			resp.AddAttribute("recipient", to)
		}
		resp.AddAttribute("token_ids", strings.Join(ids, ",")).AddAttribute("amounts", strings.Join(amts, ","))
	case "approve_all", "revoke_all":
		if err := deps.API.Validate(m.Operator); err != nil {
			return nil, err
		}
		if name == "approve_all" {
			deps.Storage().Set([]byte(operatorKey(sender, m.Operator)), []byte{1})
		} else {
			deps.Storage().Delete([]byte(operatorKey(sender, m.Operator)))
		}
		resp.AddAttribute("action", name).AddAttribute("sender", sender).AddAttribute("operator", m.Operator)
	default:
		return nil, fmt.Errorf("%w: cw1155 execute %q", ErrUnknownMessage, name)
	}
	return resp, nil
}

func (p cw1155Program) checkMinter(deps Deps, sender string) error {
	minter, _ := deps.Storage().Get([]byte(cw1155MinterKey))
	if string(minter) != sender {
		return fmt.Errorf("%w: only the minter can mint", ErrUnauthorized)
	}
	return nil
}

type cw1155Query struct {
	Owner      string  `json:"owner"`
	Operator   string  `json:"operator"`
	TokenID    *string `json:"token_id,omitempty"`
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

func (p cw1155Program) Query(deps Deps, msg []byte) ([]byte, error) {
	name, raw, err := SplitMessage(msg)
	if err != nil {
		return nil, err
	}
	if name == "balance_of_batch" {
		var reqs []OwnerToken
		if err := decodeBody(name, raw, &reqs); err != nil {
			return nil, err
		}
		out := BalancesResponse{Balances: make([]BatchBalance, len(reqs))}
		for i, r := range reqs {
			out.Balances[i] = BatchBalance{TokenID: r.TokenID, Owner: r.Owner, Amount: NewUint128(loadInt(deps.Storage(), mtBalKey(r.TokenID, r.Owner)))}
		}
		return marshalResponse(out)
	}
	var q cw1155Query
	if err := decodeBody(name, raw, &q); err != nil {
		return nil, err
	}
	tokenID := ""
	if q.TokenID != nil {
		tokenID = *q.TokenID
	}
	switch name {
	case "balance_of":
		return marshalResponse(BalanceResponse{Balance: NewUint128(loadInt(deps.Storage(), mtBalKey(tokenID, q.Owner)))})
	case "is_approved_for_all":
		return marshalResponse(IsApprovedForAllResponse{Approved: deps.Storage().Has([]byte(operatorKey(q.Owner, q.Operator)))})
	case "token_info":
		if !deps.Storage().Has([]byte(mtSupplyKey(tokenID))) {
			return nil, fmt.Errorf("%w: token %s", ErrNotFound, tokenID)
		}
		uri, _ := deps.Storage().Get([]byte(cw1155URIPrefix + tokenID))
		return marshalResponse(NftInfoResponse{TokenURI: string(uri), Extension: []byte("null")})
	case "num_tokens":
		if q.TokenID == nil {
			return marshalResponse(SupplyResponse{Count: NewUint128(loadInt(deps.Storage(), cw1155TotalKey))})
		}
		return marshalResponse(SupplyResponse{Count: NewUint128(loadInt(deps.Storage(), mtSupplyKey(tokenID)))})
	case "contract_info":
		var ci ContractInfoResponse
		if _, err := loadJSON(deps.Storage(), cw1155InfoKey, &ci); err != nil {
			return nil, err
		}
		return marshalResponse(ci)
	case "minter":
		minter, _ := deps.Storage().Get([]byte(cw1155MinterKey))
		return marshalResponse(map[string]string{"minter": string(minter)})
	case "all_tokens":
		out := []string{}
		n := pageLimit(q.Limit)
		deps.Storage().Iterate([]byte(cw1155SupplyPrefix), func(k, _ []byte) bool {
			id := strings.TrimPrefix(string(k), cw1155SupplyPrefix)
			if q.StartAfter != nil && id <= *q.StartAfter {
				return true
			}
			out = append(out, id)
			return len(out) < n
		})
		return marshalResponse(TokensResponse{Tokens: out})
	}
	return nil, fmt.Errorf("%w: cw1155 query %q", ErrUnknownMessage, name)
}
