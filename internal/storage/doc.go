// Package storage provides the non-volatile persistence layer.
//
// It currently supports:
//   - A fixed-size byte-addressable region (the emulated EEPROM the ledger
//     record lives in), read and written at fixed offsets
//   - Audit log appends (executions, clock corrections, ledger resets)
//
// Drivers: "file" (image file + jsonl audit), "sqlite" and "memory".
package storage
