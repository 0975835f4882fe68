// Package configstore persists redisbox defaults in an XDG-compliant TOML
// file. Settings resolve project scope before global scope, and REDISBOX_*
// environment variables override both.
package configstore
