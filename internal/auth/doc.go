// Package auth provides caller authentication and webhook signature
// verification for the gateway.
//
// Two credential schemes are supported for synchronous dispatches: static
// API keys (constant-time equality) and HS256-signed bearer tokens. Inbound
// webhook callbacks are authenticated separately via an HMAC-SHA256
// signature over the raw request body.
package auth
