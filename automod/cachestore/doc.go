// Automod component for caching platform lookups (as JSON strings) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The engine uses it to cache guild member and role lookups, so that evaluating a burst of messages from one member doesn't hit the platform REST API for every message.
package cachestore
