package state

var (
	accountPrefix = []byte("account:")
	escrowPrefix  = []byte("escrow:")
	pendingPrefix = []byte("escrow-pending:")
	schemaKeyRaw  = []byte("schema-version")
)
