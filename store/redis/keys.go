package redis

// Redis key naming conventions for spool data.
// All keys are prefixed with "spool:" to avoid collisions.

const keyPrefix = "spool:"

// ── Job keys ──

// jobKeyPrefix prefixes every job Hash; scripts append the job ID.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity: spool:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// statusKey returns the Sorted Set holding a queue's jobs in one status:
// spool:queue:{name}:{status}
func statusKey(queue, status string) string {
	return keyPrefix + "queue:" + queue + ":" + status
}

// pausedKey is the Set of paused queue names.
const pausedKey = keyPrefix + "paused"

// queuesKey is the Set of every queue name that has received a job.
const queuesKey = keyPrefix + "queues"

// ── Export keys ──

// exportKey returns the key for an export entity: spool:export:{id}
func exportKey(id string) string { return keyPrefix + "export:" + id }

// userExportsKey returns the Sorted Set of a user's exports scored by creation.
func userExportsKey(userID string) string { return keyPrefix + "exports:user:" + userID }

// exportExpiryKey is the Sorted Set of completed exports scored by ExpiresAt.
const exportExpiryKey = keyPrefix + "exports:expiry"

// exportFilenamesKey is the Hash mapping artifact filename to export ID.
const exportFilenamesKey = keyPrefix + "exports:filenames"
