// Package vault moves sensitive financial documents through the
// request orchestrator: uploads with client-side AES-256-GCM
// encryption and checksum verification, downloads with local
// decryption, and short-lived signed preview URLs. Transfer progress is
// broadcast to observers through the lifecycle Tracker.
//
// Cryptography, key management, and the URL-signing secret are
// injected capabilities, so the same logic runs against any platform's
// native crypto library.
package vault
