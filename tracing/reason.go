package tracing

// BalanceChangeReason is a description of the reason why a native ledger
// balance was changed.
type BalanceChangeReason int

const (
	BalanceChangeUnspecified BalanceChangeReason = iota
	BalanceChangeGenesis
	BalanceChangeTransfer
	BalanceChangeMint
	BalanceChangeBurn
	// BalanceChangePointerTransfer is a transfer performed by a pointer on
	// behalf of an EVM caller.
	BalanceChangePointerTransfer
	// BalanceChangeEVMValue moves value attached to an EVM call.
	BalanceChangeEVMValue
	// BalanceChangeAssociationMigration sweeps funds held by an EVM address
	// into its owner's native account when the association is recorded.
	BalanceChangeAssociationMigration
)

// String returns a human-readable string for the reason.
func (r BalanceChangeReason) String() string {
	switch r {
	case BalanceChangeUnspecified:
		return "unspecified"
	case BalanceChangeGenesis:
		return "genesis"
	case BalanceChangeTransfer:
		return "transfer"
	case BalanceChangeMint:
		return "mint"
	case BalanceChangeBurn:
		return "burn"
	case BalanceChangePointerTransfer:
		return "pointer_transfer"
	case BalanceChangeEVMValue:
		return "evm_value"
	case BalanceChangeAssociationMigration:
		return "association_migration"
	}
	return "unknown"
}

// PointerChangeReason describes why the pointer registry was written.
type PointerChangeReason int

const (
	PointerChangeUnspecified PointerChangeReason = iota
	PointerChangeRegister
	PointerChangeDeploy
	PointerChangeVersionUpgrade
)

// String returns a human-readable string for the reason.
func (r PointerChangeReason) String() string {
	switch r {
	case PointerChangeUnspecified:
		return "unspecified"
	case PointerChangeRegister:
		return "register"
	case PointerChangeDeploy:
		return "deploy"
	case PointerChangeVersionUpgrade:
		return "version_upgrade"
	}
	return "unknown"
}
