package redis

import goredis "github.com/redis/go-redis/v9"

// Script results shared by the lease-checked scripts.
const (
	scriptLeaseLost = 0
	scriptOK        = 1
)

// leaseCheck aborts a script unless the job at KEYS[1] is active under the
// attempt in ARGV[2].
const leaseCheck = `
local st = redis.call('HMGET', KEYS[1], 'state', 'attempts')
if st[1] ~= 'active' or st[2] ~= ARGV[2] then
  return 0
end
`

// enqueueScript stores a new job and places it on its topic.
//
// KEYS: job, job_ids, seq, ready, delayed
// ARGV: id, now_ms, visible_ms, field, value, ...
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local seq = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'seq', seq, unpack(ARGV, 4))
redis.call('SADD', KEYS[2], ARGV[1])
if tonumber(ARGV[3]) <= tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[4], seq, ARGV[1])
else
  redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
end
return 1
`)

// claimScript promotes due delayed jobs and expired leases into the ready
// set, then claims the job with the lowest sequence.
//
// KEYS: ready, delayed, active
// ARGV: now_ms, lease_expiry_ms, worker_id, visible_at, updated_at, job_key_prefix
var claimScript = goredis.NewScript(`
local function promote(key)
  local due = redis.call('ZRANGEBYSCORE', key, '-inf', ARGV[1])
  for _, id in ipairs(due) do
    redis.call('ZREM', key, id)
    local seq = redis.call('HGET', ARGV[6] .. id, 'seq')
    if seq then
      redis.call('ZADD', KEYS[1], seq, id)
    end
  end
end
promote(KEYS[2])
promote(KEYS[3])

local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
  return false
end
local id = head[1]
redis.call('ZREM', KEYS[1], id)
local key = ARGV[6] .. id
redis.call('HINCRBY', key, 'attempts', 1)
redis.call('HSET', key,
  'state', 'active',
  'claimed_by', ARGV[3],
  'visible_at', ARGV[4],
  'updated_at', ARGV[5])
redis.call('ZADD', KEYS[3], ARGV[2], id)
return redis.call('HGETALL', key)
`)

// completeScript deletes a leased job.
//
// KEYS: job, job_ids, ready, delayed, active
// ARGV: id, attempts
var completeScript = goredis.NewScript(leaseCheck + `
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
return 1
`)

// retryScript returns a leased job to pending.
//
// KEYS: job, ready, delayed, active
// ARGV: id, attempts, now_ms, visible_ms, visible_at, updated_at, last_error
var retryScript = goredis.NewScript(leaseCheck + `
redis.call('HSET', KEYS[1],
  'state', 'pending',
  'claimed_by', '',
  'visible_at', ARGV[5],
  'updated_at', ARGV[6],
  'last_error', ARGV[7])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
if tonumber(ARGV[4]) <= tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[2], redis.call('HGET', KEYS[1], 'seq'), ARGV[1])
else
  redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
end
return 1
`)

// extendScript pushes the lease of a leased job.
//
// KEYS: job, ready, active
// ARGV: id, attempts, lease_expiry_ms, visible_at, updated_at
var extendScript = goredis.NewScript(leaseCheck + `
redis.call('HSET', KEYS[1], 'visible_at', ARGV[4], 'updated_at', ARGV[5])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// deadLetterScript deletes a leased job and writes its DLQ entry.
//
// KEYS: job, job_ids, ready, delayed, active, dlq_entry, dlq_index
// ARGV: id, attempts, entry_id, failed_ms, field, value, ...
var deadLetterScript = goredis.NewScript(leaseCheck + `
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
redis.call('HSET', KEYS[6], unpack(ARGV, 5))
redis.call('ZADD', KEYS[7], ARGV[4], ARGV[3])
return 1
`)

// createUserScript reserves an email and stores the user.
//
// KEYS: user, user_emails
// ARGV: email, id, field, value, ...
var createUserScript = goredis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
return 1
`)

// flatten turns a field map into alternating field/value script arguments.
func flatten(m map[string]string) []interface{} {
	out := make([]interface{}, 0, len(m)*2)
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}
