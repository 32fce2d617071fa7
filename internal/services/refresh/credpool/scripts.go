package credpool

import "github.com/redis/go-redis/v9"

// checkoutScript removes and returns one usable credential id and leases it to the caller
// leases past their deadline go back to the available set first
// KEYS: available, blocked, cooldown, principals, leases
// ARGV: preferred principal ("" for none), now in unix ms, lease token, lease deadline ms
var checkoutScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local held = redis.call('HGETALL', KEYS[5])
for i = 1, #held, 2 do
  local deadline = string.match(held[i + 1], '^(%d+):')
  if not deadline or tonumber(deadline) <= now then
    redis.call('HDEL', KEYS[5], held[i])
    redis.call('SADD', KEYS[1], held[i])
  end
end
local function take(id)
  redis.call('SREM', KEYS[1], id)
  redis.call('HSET', KEYS[5], id, ARGV[4] .. ':' .. ARGV[3])
  return id
end
local function usable(id)
  if redis.call('SISMEMBER', KEYS[2], id) == 1 then
    return false
  end
  local untilMs = redis.call('HGET', KEYS[3], id)
  if untilMs and tonumber(untilMs) > now then
    return false
  end
  return true
end
if ARGV[1] ~= '' then
  local id = redis.call('HGET', KEYS[4], ARGV[1])
  if id and redis.call('SISMEMBER', KEYS[1], id) == 1 and usable(id) then
    return take(id)
  end
end
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
  if usable(id) then
    return take(id)
  end
end
return false
`)

// releaseScript returns a credential unless its lease was reclaimed and handed to someone else
// KEYS: available, leases
// ARGV: id, lease token ("" for a credential that was never checked out)
var releaseScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur then
  if ARGV[2] == '' or string.match(cur, '^%d+:(.+)$') ~= ARGV[2] then
    return 0
  end
  redis.call('HDEL', KEYS[2], ARGV[1])
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

// registerScript adds a credential once; re-registering never re-adds a checked out id
// KEYS: secrets, principals, status, available
// ARGV: id, record json, principal, status json
var registerScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
  redis.call('HSET', KEYS[2], ARGV[3], ARGV[1])
  redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
  redis.call('SADD', KEYS[4], ARGV[1])
  return 1
end
redis.call('HSET', KEYS[2], ARGV[3], ARGV[1])
return 0
`)
