package redis

// Redis key naming conventions for courier data.
// All keys are prefixed with "courier:" to avoid collisions.

const keyPrefix = "courier:"

// ── Job keys ──

// jobKeyPrefix is prepended to a job ID to form its Hash key. Scripts use
// it to reach job hashes named by Sorted Set members.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity: courier:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// seqKey is the counter that orders jobs across all topics.
const seqKey = keyPrefix + "seq"

// readyKey returns the Sorted Set of claimable jobs, scored by sequence.
func readyKey(topic string) string { return keyPrefix + "ready:" + topic }

// delayedKey returns the Sorted Set of pending jobs scored by the unix
// millisecond at which they become visible.
func delayedKey(topic string) string { return keyPrefix + "delayed:" + topic }

// activeKey returns the Sorted Set of claimed jobs scored by lease expiry.
func activeKey(topic string) string { return keyPrefix + "active:" + topic }

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: courier:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIndexKey is the Sorted Set of DLQ entry IDs scored by failure time.
const dlqIndexKey = keyPrefix + "dlq_index"

// ── Account keys ──

// userKey returns the key for a user entity: courier:user:{id}
func userKey(id string) string { return keyPrefix + "user:" + id }

// userEmailsKey maps email addresses to user IDs for duplicate detection.
const userEmailsKey = keyPrefix + "user_emails"

// ── Notifications ──

// notifyPrefix is the Pub/Sub channel prefix for topic wake-ups.
const notifyPrefix = keyPrefix + "notify:"

// notifyChannel returns the channel published to when topic gains work.
func notifyChannel(topic string) string { return notifyPrefix + topic }

// ── Cluster keys ──

// leaderKey holds the worker ID of the current leader, with a TTL.
const leaderKey = keyPrefix + "leader"
