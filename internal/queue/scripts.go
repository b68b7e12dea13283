package queue

import "github.com/redis/go-redis/v9"

// Every key of a queue shares the {name} hash tag, job keys are derived from
// the prefix passed in ARGV.

// KEYS: wait, active, paused
// ARGV: job key prefix, lease token, lease ttl ms, now ms
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
  return false
end
local id = redis.call('LMOVE', KEYS[1], KEYS[2], 'RIGHT', 'LEFT')
if not id then
  return false
end
local jobKey = ARGV[1] .. id
if redis.call('EXISTS', jobKey) == 0 then
  redis.call('LREM', KEYS[2], 1, id)
  return ''
end
redis.call('SET', jobKey .. ':lock', ARGV[2], 'PX', ARGV[3])
redis.call('HSET', jobKey, 'state', 'active', 'processedOn', ARGV[4])
return id
`)

// KEYS: active, job, lock
// ARGV: lease token or '' for the stalled check, final state, field, value,
// now ms, retention ms, done channel, job id
var finishScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'state') ~= 'active' then
  return 0
end
local lock = redis.call('GET', KEYS[3])
if ARGV[1] ~= '' then
  if lock ~= ARGV[1] then
    return -1
  end
elseif lock then
  return 0
end
redis.call('LREM', KEYS[1], 1, ARGV[8])
redis.call('DEL', KEYS[3])
redis.call('HSET', KEYS[2], 'state', ARGV[2], ARGV[3], ARGV[4], 'finishedOn', ARGV[5])
if tonumber(ARGV[6]) > 0 then
  redis.call('PEXPIRE', KEYS[2], ARGV[6])
end
redis.call('PUBLISH', ARGV[7], ARGV[2])
return 1
`)

// KEYS: lock
// ARGV: lease token, lease ttl ms
var heartbeatScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// KEYS: wait
// ARGV: job key prefix, now ms, retention ms, reason
var drainScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
for _, id in ipairs(ids) do
  local jobKey = ARGV[1] .. id
  if redis.call('EXISTS', jobKey) == 1 then
    redis.call('HSET', jobKey, 'state', 'failed', 'failedReason', ARGV[4], 'finishedOn', ARGV[2])
    if tonumber(ARGV[3]) > 0 then
      redis.call('PEXPIRE', jobKey, ARGV[3])
    end
    redis.call('PUBLISH', jobKey .. ':done', 'failed')
  end
end
return ids
`)
