// Package txbuilder encodes router and ERC-20 calls and turns them into
// EIP-1559 transactions.
//
// Usage example (not compiled):
//
//	auto, err := txbuilder.NewAutoBuilderFromConfig(client, cfg, store, logger)
//	if err != nil { ... }
//	auto.Start(ctx) // background fee refresh
//
//	call, err := auto.Builder().BuildSwapCall(from, to, trade, bound, recipient, 0, txbuilder.FeeParams{})
//	tx, err := auto.PopulateSwap(ctx, sender, call, 0)
//	// sign + send tx
package txbuilder
