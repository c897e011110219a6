package wasm

import (
	"fmt"

	"github.com/dualvm/bridge/amount"
	"github.com/dualvm/bridge/store"
	"github.com/holiman/uint256"
)

// Names of the builtin programs, as written into ProgramSection.
const (
	ProgramCW20   = "cw20"
	ProgramCW721  = "cw721"
	ProgramCW1155 = "cw1155"
)

// Expiration mirrors cw_utils::Expiration. Only "never" is honoured; the
// runtime has no block clock.
type Expiration struct {
	Never *struct{} `json:"never,omitempty"`
}

var never = Expiration{Never: &struct{}{}}

func loadJSON(st store.Store, key string, v interface{}) (bool, error) {
	enc, ok := st.Get([]byte(key))
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(enc, v); err != nil {
		return true, fmt.Errorf("corrupt state %q: %w", key, err)
	}
	return true, nil
}

func saveJSON(st store.Store, key string, v interface{}) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	st.Set([]byte(key), enc)
	return nil
}

func loadInt(st store.Store, key string) *uint256.Int {
	enc, ok := st.Get([]byte(key))
	if !ok {
		return new(uint256.Int)
	}
	v, err := amount.ParseDecimal(string(enc))
	if err != nil {
		return new(uint256.Int)
	}
	return v
}

func saveInt(st store.Store, key string, v *uint256.Int) {
	if v.IsZero() {
		st.Delete([]byte(key))
		return
	}
	st.Set([]byte(key), []byte(v.Dec()))
}

func addChecked(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, amount.ErrOverflow
	}
	return sum, nil
}

func marshalResponse(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
