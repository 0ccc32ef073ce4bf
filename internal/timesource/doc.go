// Package timesource resolves the day's prayer times for a governorate.
//
// Drivers implement Source: "aladhan" queries the public aladhan.com API,
// "solar" computes the sun-anchored events offline. Cache wraps any Source
// with a per-(location, day) cache and collapses concurrent lookups.
package timesource
