// Package board provides the kanban-style task store shown to customers.
// Board tasks are independent of the ledger and optimized for frequent
// small updates, each of which broadcasts to the project's event stream.
package board
