// Package offline holds what every offline-action repository shares: site and
// user scoping, the clock that stamps staged actions, and reporting of rows
// whose payload no longer decodes.
package offline
