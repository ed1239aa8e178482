// Package registry keeps the table of known stage devices and the proxy
// clients of a session.
//
// Endpoints are indexed by stage device id in a fixed-size table. They are
// created or refreshed by registration and announce messages and are
// considered expired once no refresh arrived within the liveness timeout.
// Expired endpoints stay in the table and become active again on the next
// refresh; they are never deleted.
//
// The ProxyTable lists extra destinations that receive an unencrypted copy
// of forwarded audio. Proxy clients are added by configuration only.
package registry
