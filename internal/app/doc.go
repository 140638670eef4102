// Package app composes the settlement layer into a running application.
//
// The app package sits above the business packages and wires them together.
// It is NOT a business logic layer: the settlement engine itself lives in
// internal/app/services/settlement and the ledger client in
// internal/app/services/ledger.
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── account/        # Client accounts with cash/gold balances
//	│   └── settlement/     # Runs, snapshots, receipts, results
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # AccountStore, SettlementStore, ...
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/
//	│   ├── settlement/     # Orchestrator, calculator, bonus allocator,
//	│   │                   # snapshotter, validator, run lock, scheduler
//	│   └── ledger/         # Ledger client, retry, breaker, confirmer
//	├── httpapi/            # HTTP API handlers
//	├── system/             # Lifecycle management
//	└── metrics/            # Prometheus collectors
package app
