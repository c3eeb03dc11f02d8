// Registry of expected "echo" events.
//
// Before performing a platform action which will be observed again as a gateway event (kicking a member shows up as a member-remove, for example), a component registers an entry describing the echo. Event handlers consult the registry with Find before treating an event as organic. Entries are consumed per event type, and expire after a fixed TTL whether or not they were matched.
package correlation
