/*
Package group manages named batches of jobs with shared metadata.

A JobGroup is a grouping, not a lifecycle owner: it holds member job ids
plus tags, an optional resource-limit descriptor, a priority (clamped to
0–100) and an optional expiration. Deleting a group or letting it expire
never touches the member jobs themselves; expiry is advisory and the
janitor sweeps expired groups on retention policy.

Membership mutations are synchronous: when AddJob or RemoveJob returns the
change is visible to JobIDs and JobCount. Earlier designs made these
fire-and-forget, which forced callers to poll for their own writes; nothing
here is hot enough to justify that.

Groups are persisted write-through to the store and restored at manager
startup.
*/
package group
