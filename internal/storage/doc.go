// Package storage persists the IX-F notifier's state.
//
// It records:
//   - every email rendered for a network or exchange, and when it was sent
//   - tickets opened for the admin committee
//   - open proposals, so aged ones can be escalated later
//   - per IX-LAN source error notices (for throttling)
//   - dispatch dedup windows (to survive restarts)
package storage
