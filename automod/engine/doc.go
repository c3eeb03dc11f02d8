// Anti-spam rule evaluation and enforcement for guild chat, plus filtering of the gateway echoes caused by the engine's own actions.
package engine
