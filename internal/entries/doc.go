// Package entries reads and writes the CSV-backed drop ledger and the base
// data table that pre-fills new drops.
//
// Files:
//   - template.csv: header row only, defines the ledger field order
//   - data_entries.csv: one row per drop, appended as stills are extracted
//   - base CSV: one row per video (VIDEO_FILENAME), copied into new drops
//
// Values are kept as strings. Nothing here validates; the rules package
// does that before a row is written.
package entries
