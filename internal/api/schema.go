// Package api serves the point-in-time GraphQL queries and mutations over
// HTTP and the long-lived subscriptions over a graphql-ws-flavored
// WebSocket protocol, backed entirely by internal/store. Nothing here
// derives relevance or decodes chain data itself; that work already
// happened in internal/chainindexer and internal/walletindexer, and this
// package only reads what they committed.
package api

import (
	"github.com/graph-gophers/graphql-go"
)

// schemaString is the GraphQL SDL for the queries and mutations executed
// through graph-gophers/graphql-go. Subscriptions are not part of this
// schema: they run over the bespoke WebSocket protocol in subscriptions.go,
// since the catalog's backfill-then-live semantics and per-row progress
// envelopes don't fit graphql-go's own subscription execution model.
const schemaString = `
	schema {
		query: Query
		mutation: Mutation
	}

	type Query {
		block(height: Int, hash: String): Block
		latestBlock: Block
		transaction(hash: String!): Transaction
		transactions(offset: TransactionOffset): [Transaction!]!
		contractActions(address: String!): [ContractAction!]!
		contractAction(address: String!, offset: ContractActionOffset): ContractAction
		unshieldedUtxos(owner: String!): [UnshieldedUtxo!]!
	}

	type Mutation {
		connect(viewingKey: String!): ConnectPayload!
		disconnect(sessionId: String!): Boolean!
	}

	# A transaction offset resolves to at most one transaction: by its hash,
	# or directly by its id.
	input TransactionOffset {
		hash: String
		id: String
	}

	# A contract action offset resolves to the most recent lifecycle event
	# at or before a height; omitting height (or the whole offset) means the
	# latest lifecycle event known, regardless of height.
	input ContractActionOffset {
		height: Int
	}

	type Block {
		id: String!
		height: Int!
		hash: String!
		parentHash: String!
		protocolVersion: Int!
		author: String
		timestamp: String!
		ledgerParameters: String!
	}

	type Transaction {
		id: String!
		blockId: String!
		variant: String!
		hash: String!
		protocolVersion: Int!
		raw: String!
		status: String
		merkleTreeRoot: String
		startIndex: String
		endIndex: String
		paidFees: String
		estimatedFees: String
		identifiers: [String!]!
		unshieldedSpentOutputs: [UnshieldedUtxo!]!
	}

	type ContractAction {
		id: String!
		transactionId: String!
		variant: String!
		address: String!
		state: String!
		zswapState: String!
		entryPoint: String
	}

	type UnshieldedUtxo {
		id: String!
		creatingTransactionId: String!
		spendingTransactionId: String
		owner: String!
		tokenType: String!
		value: String!
		intentHash: String!
		outputIndex: String!
		registeredForDustGeneration: Boolean!
		createdAtTransaction: Transaction!
	}

	type ConnectPayload {
		sessionId: String!
		walletId: String!
	}
`

// newSchema parses schemaString against resolver once at startup (not
// per-request), returning the parse error for a malformed schema so
// NewServer fails fast, the same posture envconfig binding failures get in
// config.Load.
func newSchema(resolver *Resolver) (*graphql.Schema, error) {
	return graphql.ParseSchema(schemaString, resolver)
}
