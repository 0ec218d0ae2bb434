package models

import "encoding/json"

// ChainhookPayload is the body of one webhook delivery from the chain-indexing
// service: a batch of confirmed blocks to apply and/or invalidated blocks to
// roll back.
type ChainhookPayload struct {
	Apply     []ChainhookBlock    `json:"apply"`
	Rollback  []ChainhookRollback `json:"rollback"`
	Chainhook ChainhookMetadata   `json:"chainhook"`
}

// ChainhookMetadata identifies the registered hook that produced a delivery.
type ChainhookMetadata struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// BlockIdentifier is a block's height and hash.
type BlockIdentifier struct {
	Index int64  `json:"index"`
	Hash  string `json:"hash"`
}

// ChainhookBlock is one confirmed block in the apply array. Transactions are
// delivered in chain order and must be processed in that order.
type ChainhookBlock struct {
	BlockIdentifier BlockIdentifier        `json:"block_identifier"`
	Timestamp       int64                  `json:"timestamp"`
	Transactions    []ChainhookTransaction `json:"transactions"`
}

// ChainhookRollback names a previously delivered block that has been
// invalidated by a reorg.
type ChainhookRollback struct {
	BlockIdentifier BlockIdentifier `json:"block_identifier"`
}

// ChainhookTransaction carries one transaction's identifier and receipt.
type ChainhookTransaction struct {
	TransactionIdentifier TransactionIdentifier `json:"transaction_identifier"`
	Metadata              TransactionMetadata   `json:"metadata"`
}

// TransactionIdentifier is the transaction hash.
type TransactionIdentifier struct {
	Hash string `json:"hash"`
}

// TransactionMetadata holds the receipt produced by executing a transaction.
type TransactionMetadata struct {
	Receipt TransactionReceipt `json:"receipt"`
	Success bool               `json:"success"`
}

// ReceiptStatusSuccess is the receipt status of a committed transaction.
// Events from transactions with any other status are ignored.
const ReceiptStatusSuccess = "success"

// TransactionReceipt holds the receipt status and the raw contract events the
// transaction emitted.
type TransactionReceipt struct {
	Status string          `json:"status"`
	Events []ReceiptEvent  `json:"events"`
}

// SmartContractEventType is the receipt event kind carrying contract print
// output. Other kinds (transfers, mints) are not decoded here.
const SmartContractEventType = "SmartContractEvent"

// ReceiptEvent is one raw log entry from a transaction receipt. Data.Value
// holds the contract's print payload when Type is SmartContractEvent.
type ReceiptEvent struct {
	Type string           `json:"type"`
	Data ReceiptEventData `json:"data"`
}

// ReceiptEventData wraps the print payload. Value is kept raw so the decoder
// can parse numbers without float truncation.
type ReceiptEventData struct {
	ContractIdentifier string          `json:"contract_identifier,omitempty"`
	Value              json.RawMessage `json:"value"`
}
