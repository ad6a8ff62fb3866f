// Package registry is the device registry accessor: control boards and
// their sensors keyed by hardware address, the append-only reading, board
// event and connection status tables, the broker endpoint record,
// notification users and error reports.
//
// Boards are provisioned out of band. The bridge only resolves them, and
// it does so from the last two octets of the MAC, which is all a status
// topic carries. The registry therefore keeps those two octets in a UNIQUE
// column and refuses a board whose suffix is already taken (ErrSuffixTaken).
// Two boards that differ only in their first four octets cannot both be
// registered.
//
// SQLiteRepository and PostgresRepository implement the same Repository
// contract and share one contract test.
package registry
