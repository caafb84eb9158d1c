// Package confloader loads configuration into koanf-tagged structs.
//
// Sources are applied in order, later ones overriding earlier ones:
//
//  1. Values already in the target (the caller's defaults)
//  2. A YAML file
//  3. Environment variables with a prefix, where a double underscore
//     separates nesting levels: DOCSYNC_ROOM__GRACE_PERIOD sets
//     room.grace_period
//  4. An explicit map (command-line flags)
//
// Watcher reports changes of a configuration file so long-running
// processes can apply the settings that are safe to change live.
package confloader
