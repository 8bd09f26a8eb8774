// Package apikey issues and validates control API keys.
//
// Keys look like bbx_<id>_<secret>. Only a bcrypt hash of the secret is
// kept. Validation always performs one hash comparison, against a dummy
// hash when the id is unknown, so neither the response nor its timing
// reveals whether the id exists.
package apikey
