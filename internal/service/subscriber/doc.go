// Package subscriber reads subscriber profiles, delivery preferences and
// analytics connections, and records delivery bookkeeping.
//
// Repository implementations live in repository/postgres/.
package subscriber
