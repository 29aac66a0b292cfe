// Package model defines the shared market-data types produced by the stream layer.
//
// Conventions:
//   - Prices and quantities: float64 parsed from the exchange's decimal strings
//   - Timestamps: time.Time in UTC (exchange event time where available)
//   - Topics: "<symbol>@<channel>[_<interval>]" with a lowercase symbol
package model
