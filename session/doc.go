// Package session keeps the access/refresh token pair encrypted at
// rest. Tokens are sealed with AES-256-GCM under a master key supplied
// by a KeyProvider (static, environment, or OS keychain) and written to
// a single namespaced entry; any decryption or structural failure wipes
// the entry rather than trusting it. The Store implements
// titipan.TokenSource, so it plugs straight into the client's header
// attachment.
package session
