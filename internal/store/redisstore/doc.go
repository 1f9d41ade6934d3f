// Package redisstore implements the billing snapshot cache and the drift
// queue on Redis, so that several entitlementd instances share them.
package redisstore
