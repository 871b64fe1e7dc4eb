package queue

import "github.com/redis/go-redis/v9"

// All scripts address job hashes as ARGV-built keys under the store prefix.
// The prefix is a hash tag, so every key of one queue lands on one slot.

// enqueueScript inserts a job unless its id is taken.
// KEYS: waiting, delayed. ARGV: jobKey, id, runAtMs, nowMs, field/value pairs...
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', ARGV[1]) == 1 then
  return 0
end
redis.call('HSET', ARGV[1], unpack(ARGV, 5))
if tonumber(ARGV[3]) > tonumber(ARGV[4]) then
  redis.call('HSET', ARGV[1], 'state', 'delayed')
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
else
  redis.call('HSET', ARGV[1], 'state', 'waiting')
  redis.call('RPUSH', KEYS[1], ARGV[2])
end
return 1
`)

// addRepeatScript stores a repeat definition once per key.
// KEYS: repeats, repeatNext. ARGV: key, definition, nextMs.
var addRepeatScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// materializeScript advances a repeat from the tick the caller observed and
// creates that tick's job. Only the caller whose observed tick still matches
// wins, so each tick yields one job across all processes.
// KEYS: repeatNext, waiting. ARGV: repeatKey, observedMs, nextMs, jobKey, id, field/value pairs...
var materializeScript = redis.NewScript(`
local current = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not current or tonumber(current) ~= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
if redis.call('EXISTS', ARGV[4]) == 1 then
  return 0
end
redis.call('HSET', ARGV[4], unpack(ARGV, 6))
redis.call('HSET', ARGV[4], 'state', 'waiting')
redis.call('RPUSH', KEYS[2], ARGV[5])
return 1
`)

// claimScript promotes due delayed jobs and leases the head of the waiting list.
// KEYS: waiting, delayed, active. ARGV: nowMs, leaseUntilMs, jobKeyPrefix.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('HSET', ARGV[3] .. id, 'state', 'waiting')
  redis.call('RPUSH', KEYS[1], id)
end
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then
    return false
  end
  local key = ARGV[3] .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('HINCRBY', key, 'attempt', 1)
    redis.call('HSET', key, 'state', 'active', 'lease_until', ARGV[2], 'updated_at', ARGV[1])
    redis.call('ZADD', KEYS[3], ARGV[2], id)
    return id
  end
end
`)

// completeScript settles a held job as completed, deleting it when asked.
// KEYS: active, completed. ARGV: jobKey, id, attempt, nowMs, result, remove.
var completeScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[2]) then
  return 0
end
if tonumber(redis.call('HGET', ARGV[1], 'attempt')) ~= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[2])
if ARGV[6] == '1' then
  redis.call('DEL', ARGV[1])
  return 1
end
redis.call('HSET', ARGV[1], 'state', 'completed', 'result', ARGV[5], 'lease_until', '0', 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
return 1
`)

// failScript settles a held job as failed, or schedules its retry when
// retryAtMs is non-empty.
// KEYS: active, delayed, failed. ARGV: jobKey, id, attempt, nowMs, error, retryAtMs.
var failScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[2]) then
  return 0
end
if tonumber(redis.call('HGET', ARGV[1], 'attempt')) ~= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[2])
if ARGV[6] == '' then
  redis.call('HSET', ARGV[1], 'state', 'failed', 'last_error', ARGV[5], 'lease_until', '0', 'updated_at', ARGV[4])
  redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])
  return 2
end
redis.call('HSET', ARGV[1], 'state', 'delayed', 'last_error', ARGV[5], 'run_at', ARGV[6], 'lease_until', '0', 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[2])
return 1
`)
