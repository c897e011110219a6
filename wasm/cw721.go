package wasm

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const (
	cw721InfoKey     = "nft_info"
	cw721MinterKey   = "minter"
	cw721CountKey    = "num_tokens"
	cw721TokenPrefix = "tokens/"
	cw721OwnerPrefix = "owner_tokens/"
	cw721OperPrefix  = "operators/"
)

// ContractInfoResponse answers {"contract_info":{}}.
type ContractInfoResponse struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// CW721InstantiateMsg is the cw721-base instantiate message.
type CW721InstantiateMsg struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Minter string `json:"minter"`
}

// Approval grants spender the right to move a token.
type Approval struct {
	Spender string     `json:"spender"`
	Expires Expiration `json:"expires"`
}

type nftToken struct {
	Owner     string     `json:"owner"`
	Approvals []Approval `json:"approvals"`
	TokenURI  string     `json:"token_uri,omitempty"`
}

// OwnerOfResponse answers {"owner_of":{"token_id":...}}.
type OwnerOfResponse struct {
	Owner     string     `json:"owner"`
	Approvals []Approval `json:"approvals"`
}

// ApprovalsResponse answers {"approvals":{"token_id":...}}.
type ApprovalsResponse struct {
	Approvals []Approval `json:"approvals"`
}

// OperatorResponse answers {"operator":{"owner":...,"operator":...}}.
type OperatorResponse struct {
	Approval Approval `json:"approval"`
}

// NftInfoResponse answers {"nft_info":{"token_id":...}}.
type NftInfoResponse struct {
	TokenURI  string              `json:"token_uri,omitempty"`
	Extension jsoniter.RawMessage `json:"extension"`
}

// TokensResponse answers {"tokens":{...}} and {"all_tokens":{...}}.
type TokensResponse struct {
	Tokens []string `json:"tokens"`
}

// NumTokensResponse answers {"num_tokens":{}}.
type NumTokensResponse struct {
	Count uint64 `json:"count"`
}

type cw721Program struct{}

func tokenKey(id string) string              { return cw721TokenPrefix + id }
func ownerKey(owner, id string) string       { return cw721OwnerPrefix + owner + "/" + id }
func operatorKey(owner, oper string) string { return cw721OperPrefix + owner + "/" + oper }

func (cw721Program) Instantiate(deps Deps, info MessageInfo, msg []byte) (*Response, error) {
	var m CW721InstantiateMsg
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
	if err := saveJSON(deps.Storage(), cw721InfoKey, ContractInfoResponse{Name: m.Name, Symbol: m.Symbol}); err != nil {
		return nil, err
	}
	deps.Storage().Set([]byte(cw721MinterKey), []byte(minter))
	return &Response{}, nil
}

func (cw721Program) token(deps Deps, id string) (nftToken, error) {
	var t nftToken
	ok, err := loadJSON(deps.Storage(), tokenKey(id), &t)
	if err == nil && !ok {
		err = fmt.Errorf("%w: token %s", ErrNotFound, id)
	}
	return t, err
}

func isOperator(deps Deps, owner, oper string) bool {
	return deps.Storage().Has([]byte(operatorKey(owner, oper)))
}

func (p cw721Program) checkCanSend(deps Deps, sender string, t nftToken) error {
	if t.Owner == sender || isOperator(deps, t.Owner, sender) {
		return nil
	}
	for _, a := range t.Approvals {
		if a.Spender == sender {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not send this token", ErrUnauthorized, sender)
}

func (p cw721Program) setCount(deps Deps, delta int64) {
	n := loadInt(deps.Storage(), cw721CountKey)
	if delta > 0 {
		n.AddUint64(n, uint64(delta))
	} else {
		n.SubUint64(n, uint64(-delta))
	}
	saveInt(deps.Storage(), cw721CountKey, n)
}

type cw721Exec struct {
	Recipient string              `json:"recipient"`
	Contract  string              `json:"contract"`
	Spender   string              `json:"spender"`
	Operator  string              `json:"operator"`
	Owner     string              `json:"owner"`
	TokenID   string              `json:"token_id"`
	TokenURI  string              `json:"token_uri"`
	Msg       []byte              `json:"msg,omitempty"`
	Expires   *Expiration         `json:"expires,omitempty"`
	Extension jsoniter.RawMessage `json:"extension,omitempty"`
}

func (p cw721Program) Execute(deps Deps, info MessageInfo, msg []byte) (*Response, error) {
	name, raw, err := SplitMessage(msg)
	if err != nil {
		return nil, err
	}
	var m cw721Exec
	if err := decodeBody(name, raw, &m); err != nil {
		return nil, err
	}
	sender := info.Sender
	resp := new(Response).AddAttribute("action", name)
	switch name {
	case "transfer_nft", "send_nft":
		to := m.Recipient
		if name == "send_nft" {
			to = m.Contract
		}
		if err := deps.API.Validate(to); err != nil {
			return nil, err
		}
		t, err := p.token(deps, m.TokenID)
		if err != nil {
			return nil, err
		}
		if err := p.checkCanSend(deps, sender, t); err != nil {
			return nil, err
		}
		prev := t.Owner
		deps.Storage().Delete([]byte(ownerKey(prev, m.TokenID)))
		t.Owner, t.Approvals = to, nil
		if err := saveJSON(deps.Storage(), tokenKey(m.TokenID), t); err != nil {
			return nil, err
		}
		deps.Storage().Set([]byte(ownerKey(to, m.TokenID)), []byte{1})
		resp.AddAttribute("sender", sender).
			AddAttribute("owner", prev).
			AddAttribute("recipient", to).
			AddAttribute("token_id", m.TokenID)
	case "approve", "revoke":
		t, err := p.token(deps, m.TokenID)
		if err != nil {
			return nil, err
		}
		if t.Owner != sender && !isOperator(deps, t.Owner, sender) {
			return nil, fmt.Errorf("%w: %s does not own token %s", ErrUnauthorized, sender, m.TokenID)
		}
		if err := deps.API.Validate(m.Spender); err != nil {
			return nil, err
		}
		kept := t.Approvals[:0]
		for _, a := range t.Approvals {
			if a.Spender != m.Spender {
				kept = append(kept, a)
			}
		}
		t.Approvals = kept
		if name == "approve" {
			t.Approvals = append(t.Approvals, Approval{Spender: m.Spender, Expires: never})
		}
		if err := saveJSON(deps.Storage(), tokenKey(m.TokenID), t); err != nil {
			return nil, err
		}
		resp.AddAttribute("sender", sender).
			AddAttribute("spender", m.Spender).
			AddAttribute("token_id", m.TokenID)
	case "approve_all", "revoke_all":
		if err := deps.API.Validate(m.Operator); err != nil {
			return nil, err
		}
		if name == "approve_all" {
			deps.Storage().Set([]byte(operatorKey(sender, m.Operator)), []byte{1})
		} else {
			deps.Storage().Delete([]byte(operatorKey(sender, m.Operator)))
		}
		resp.AddAttribute("sender", sender).AddAttribute("operator", m.Operator)
	case "mint":
		minter, _ := deps.Storage().Get([]byte(cw721MinterKey))
		if string(minter) != sender {
			return nil, fmt.Errorf("%w: only the minter can mint", ErrUnauthorized)
		}
		if err := deps.API.Validate(m.Owner); err != nil {
			return nil, err
		}
		if m.TokenID == "" {
			return nil, fmt.Errorf("empty token id")
		}
		if deps.Storage().Has([]byte(tokenKey(m.TokenID))) {
			return nil, fmt.Errorf("token_id %s already claimed", m.TokenID)
		}
		if err := saveJSON(deps.Storage(), tokenKey(m.TokenID), nftToken{Owner: m.Owner, TokenURI: m.TokenURI}); err != nil {
			return nil, err
		}
		deps.Storage().Set([]byte(ownerKey(m.Owner, m.TokenID)), []byte{1})
		p.setCount(deps, 1)
		resp.AddAttribute("minter", sender).
			AddAttribute("owner", m.Owner).
			AddAttribute("token_id", m.TokenID)
	case "burn":
		t, err := p.token(deps, m.TokenID)
		if err != nil {
			return nil, err
		}
		if err := p.checkCanSend(deps, sender, t); err != nil {
			return nil, err
		}
		deps.Storage().Delete([]byte(tokenKey(m.TokenID)))
		deps.Storage().Delete([]byte(ownerKey(t.Owner, m.TokenID)))
		p.setCount(deps, -1)
		resp.AddAttribute("sender", sender).
			AddAttribute("owner", t.Owner).
			AddAttribute("token_id", m.TokenID)
	default:
		return nil, fmt.Errorf("%w: cw721 execute %q", ErrUnknownMessage, name)
	}
	return resp, nil
}

type cw721Query struct {
	TokenID    string  `json:"token_id"`
	Owner      string  `json:"owner"`
	Operator   string  `json:"operator"`
	Spender    string  `json:"spender"`
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

func (p cw721Program) Query(deps Deps, msg []byte) ([]byte, error) {
	name, raw, err := SplitMessage(msg)
	if err != nil {
		return nil, err
	}
	var q cw721Query
	if err := decodeBody(name, raw, &q); err != nil {
		return nil, err
	}
	switch name {
	case "contract_info":
		var ci ContractInfoResponse
		if _, err := loadJSON(deps.Storage(), cw721InfoKey, &ci); err != nil {
			return nil, err
		}
		return marshalResponse(ci)
	case "minter":
		minter, _ := deps.Storage().Get([]byte(cw721MinterKey))
		return marshalResponse(map[string]string{"minter": string(minter)})
	case "num_tokens":
		return marshalResponse(NumTokensResponse{Count: loadInt(deps.Storage(), cw721CountKey).Uint64()})
	case "owner_of":
		t, err := p.token(deps, q.TokenID)
		if err != nil {
			return nil, err
		}
		return marshalResponse(OwnerOfResponse{Owner: t.Owner, Approvals: nonNil(t.Approvals)})
	case "approvals":
		t, err := p.token(deps, q.TokenID)
		if err != nil {
			return nil, err
		}
		return marshalResponse(ApprovalsResponse{Approvals: nonNil(t.Approvals)})
	case "approval":
		t, err := p.token(deps, q.TokenID)
		if err != nil {
			return nil, err
		}
		for _, a := range t.Approvals {
			if a.Spender == q.Spender {
				return marshalResponse(map[string]Approval{"approval": a})
			}
		}
		return nil, fmt.Errorf("%w: approval for %s", ErrNotFound, q.Spender)
	case "operator":
		if !isOperator(deps, q.Owner, q.Operator) {
			return nil, fmt.Errorf("%w: operator %s", ErrNotFound, q.Operator)
		}
		return marshalResponse(OperatorResponse{Approval: Approval{Spender: q.Operator, Expires: never}})
	case "nft_info":
		t, err := p.token(deps, q.TokenID)
		if err != nil {
			return nil, err
		}
		return marshalResponse(NftInfoResponse{TokenURI: t.TokenURI, Extension: jsoniter.RawMessage("null")})
	case "all_nft_info":
		t, err := p.token(deps, q.TokenID)
		if err != nil {
			return nil, err
		}
		return marshalResponse(map[string]interface{}{
			"access": OwnerOfResponse{Owner: t.Owner, Approvals: nonNil(t.Approvals)},
			"info":   NftInfoResponse{TokenURI: t.TokenURI, Extension: jsoniter.RawMessage("null")},
		})
	case "tokens":
		return marshalResponse(TokensResponse{Tokens: p.page(deps, cw721OwnerPrefix+q.Owner+"/", q.StartAfter, q.Limit)})
	case "all_tokens":
		return marshalResponse(TokensResponse{Tokens: p.page(deps, cw721TokenPrefix, q.StartAfter, q.Limit)})
	}
	return nil, fmt.Errorf("%w: cw721 query %q", ErrUnknownMessage, name)
}

func (p cw721Program) page(deps Deps, prefix string, startAfter *string, limit *uint32) []string {
	out := []string{}
	n := pageLimit(limit)
	deps.Storage().Iterate([]byte(prefix), func(k, _ []byte) bool {
		id := strings.TrimPrefix(string(k), prefix)
		if startAfter != nil && id <= *startAfter {
			return true
		}
		out = append(out, id)
		return len(out) < n
	})
	return out
}

func nonNil(a []Approval) []Approval {
	if a == nil {
		return []Approval{}
	}
	return a
}
