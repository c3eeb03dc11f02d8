// Validated per-guild moderation configuration.
//
// Configuration is decoded and validated once, when loaded (or reloaded), into immutable structs. Nothing in here is re-validated per event. Includes the rule resolver, which selects the anti-spam rules applicable to a member.
package config
